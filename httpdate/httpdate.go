// Package httpdate formats and parses the date forms that appear in HTTP
// headers and in Netscape-style cookies.
//
// Format always emits the RFC 2616 preferred form
// ("Sun, 06 Nov 1994 08:49:37 GMT").  Parse is deliberately more liberal
// than Format: real-world servers still emit RFC 850 dates, asctime dates,
// and the dash-separated Netscape cookie variants with two- or four-digit
// years, an optional weekday, and arbitrarily cased month names.  All of
// those are accepted; two-digit years map to 1970–2069.
package httpdate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Format renders t as an RFC 2616 HTTP-date, always in GMT.
func Format(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s, %02d %s %04d %02d:%02d:%02d GMT",
		t.Weekday().String()[:3], t.Day(), t.Month().String()[:3], t.Year(),
		t.Hour(), t.Minute(), t.Second())
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// wdayRe matches RFC 1123, RFC 850 and Netscape dates: an optional weekday,
// then day, month name and year separated by "-" or spaces, then a time of
// day.  Trailing zone names ("GMT", "UTC", "+0000") are ignored; HTTP dates
// are defined to be in GMT regardless of what the sender wrote.
var wdayRe = regexp.MustCompile(
	`^(?:[A-Za-z]+,?\s+)?(\d{1,2})[-\s]+([A-Za-z]{3,9})[-\s]+(\d{2,4})\s+(\d{1,2}):(\d{2}):(\d{2})`)

// asctimeRe matches the ANSI C asctime form: "Sun Nov  6 08:49:37 1994".
var asctimeRe = regexp.MustCompile(
	`^[A-Za-z]+\s+([A-Za-z]{3,9})\s+(\d{1,2})\s+(\d{1,2}):(\d{2}):(\d{2})\s+(\d{4})`)

// Parse interprets s as an HTTP or cookie date and returns the moment it
// names.  The second return value is false when s matches none of the
// accepted forms.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)

	var day, year, hour, min, sec int
	var monName string

	if m := wdayRe.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[1])
		monName = m[2]
		year, _ = strconv.Atoi(m[3])
		hour, _ = strconv.Atoi(m[4])
		min, _ = strconv.Atoi(m[5])
		sec, _ = strconv.Atoi(m[6])
		if len(m[3]) == 2 {
			// Two-digit years straddle the century: 70–99 are in the
			// 1900s, 00–69 in the 2000s.
			if year < 70 {
				year += 2000
			} else {
				year += 1900
			}
		}
	} else if m := asctimeRe.FindStringSubmatch(s); m != nil {
		monName = m[1]
		day, _ = strconv.Atoi(m[2])
		hour, _ = strconv.Atoi(m[3])
		min, _ = strconv.Atoi(m[4])
		sec, _ = strconv.Atoi(m[5])
		year, _ = strconv.Atoi(m[6])
	} else {
		return time.Time{}, false
	}

	mon, ok := months[strings.ToLower(monName)[:3]]
	if !ok {
		return time.Time{}, false
	}
	if day < 1 || day > 31 || hour > 23 || min > 59 || sec > 60 {
		return time.Time{}, false
	}
	return time.Date(year, mon, day, hour, min, sec, 0, time.UTC), true
}
