package urlutil_test

import (
	"errors"
	"testing"

	"github.com/firasghr/GoHTTPEngine/urlutil"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		in   string
		want urlutil.Parts
	}{
		{
			"http://example.com",
			urlutil.Parts{Scheme: "http", Host: "example.com", Port: "80", PathQuery: "/"},
		},
		{
			"https://Example.COM:8443/a/b?x=1",
			urlutil.Parts{Scheme: "https", Host: "Example.COM", Port: "8443", PathQuery: "/a/b?x=1"},
		},
		{
			"http://user:pw@example.com:81/p",
			urlutil.Parts{Scheme: "http", Userinfo: "user:pw", Host: "example.com", Port: "81", PathQuery: "/p"},
		},
		{
			"HTTPS://example.com/",
			urlutil.Parts{Scheme: "https", Host: "example.com", Port: "443", PathQuery: "/"},
		},
	}
	for _, c := range cases {
		got, err := urlutil.Split(c.in)
		if err != nil {
			t.Errorf("Split(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Split(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestSplit_UnsupportedScheme(t *testing.T) {
	for _, in := range []string{"ftp://example.com/", "file:///etc/passwd", "gopher://x/"} {
		_, err := urlutil.Split(in)
		if !errors.Is(err, urlutil.ErrUnsupported) {
			t.Errorf("Split(%q): got %v, want ErrUnsupported", in, err)
		}
	}
}

func TestSplit_NoHost(t *testing.T) {
	if _, err := urlutil.Split("http:///nohost"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestAuthority(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://example.com/", "example.com"},
		{"http://example.com:80/", "example.com"},
		{"http://example.com:8080/", "example.com:8080"},
		{"https://example.com:443/", "example.com"},
		{"https://example.com:444/", "example.com:444"},
	}
	for _, c := range cases {
		p, err := urlutil.Split(c.in)
		if err != nil {
			t.Fatalf("Split(%q): %v", c.in, err)
		}
		if p.Authority() != c.want {
			t.Errorf("Authority(%q) = %q, want %q", c.in, p.Authority(), c.want)
		}
	}
}

func TestString(t *testing.T) {
	p, err := urlutil.Split("http://user@example.com:8080/a?b=c")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.String(), "http://example.com:8080/a?b=c"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
