// Package tlsutil wraps established TCP streams in TLS according to a
// security profile.
//
// Three stock profiles exist: Low (no peer verification — the engine
// default, matching the many internal endpoints with self-signed
// certificates), High (full CA-chain and hostname verification), and
// Custom (a caller-supplied *tls.Config used verbatim).  A fourth,
// Parrot, performs the handshake through the uTLS library so the
// ClientHello matches a real Chrome fingerprint — including GREASE
// values, cipher-suite ordering, and extension ordering — for servers
// that profile clients at the TLS layer.
package tlsutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

type mode int

const (
	modeLow mode = iota
	modeHigh
	modeCustom
	modeParrot
)

// Profile selects how a stream is wrapped and verified.  The zero value
// is the Low profile.
type Profile struct {
	mode    mode
	cfg     *tls.Config
	helloID utls.ClientHelloID
}

// Low disables peer verification entirely.
func Low() Profile { return Profile{mode: modeLow} }

// High verifies the peer's CA chain and hostname.
func High() Profile { return Profile{mode: modeHigh} }

// Custom uses cfg verbatim; the caller owns every knob.
func Custom(cfg *tls.Config) Profile { return Profile{mode: modeCustom, cfg: cfg} }

// Parrot performs the handshake with the uTLS ClientHello described by
// helloID (e.g. utls.HelloChrome_Auto).  Peer verification follows the
// High profile.
func Parrot(helloID utls.ClientHelloID) Profile {
	return Profile{mode: modeParrot, helloID: helloID}
}

// Insecure reports whether the profile skips peer verification.
func (p Profile) Insecure() bool {
	switch p.mode {
	case modeLow:
		return true
	case modeCustom:
		return p.cfg != nil && p.cfg.InsecureSkipVerify
	}
	return false
}

// clientConfig builds the *tls.Config for a handshake with serverName.
func (p Profile) clientConfig(serverName string) *tls.Config {
	switch p.mode {
	case modeCustom:
		if p.cfg != nil {
			return p.cfg
		}
		return &tls.Config{ServerName: serverName} // #nosec G402 – verification on by default
	case modeHigh, modeParrot:
		return &tls.Config{ServerName: serverName}
	default:
		return &tls.Config{ServerName: serverName, InsecureSkipVerify: true} // #nosec G402 – Low profile by contract
	}
}

// Wrap performs a client TLS handshake over raw and returns the encrypted
// stream.  raw is closed on handshake failure.
func (p Profile) Wrap(ctx context.Context, raw net.Conn, serverName string) (net.Conn, error) {
	if p.mode == modeParrot {
		return p.wrapParrot(ctx, raw, serverName)
	}

	tc := tls.Client(raw, p.clientConfig(serverName))
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tlsutil: handshake with %s: %w", serverName, err)
	}
	return tc, nil
}

// wrapParrot runs the handshake through uTLS so the ClientHello matches
// the configured browser fingerprint.
func (p Profile) wrapParrot(ctx context.Context, raw net.Conn, serverName string) (net.Conn, error) {
	uCfg := &utls.Config{ServerName: serverName}
	uConn := utls.UClient(raw, uCfg, p.helloID)

	// Apply the full parrot spec when the table has one; ApplyPreset is
	// where GREASE gets randomised and the extension order is fixed.
	if spec, err := utls.UTLSIdToSpec(p.helloID); err == nil {
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("tlsutil: apply preset %s: %w", p.helloID.Str(), err)
		}
	}

	if err := uConn.HandshakeContext(ctx); err != nil {
		_ = uConn.Close()
		return nil, fmt.Errorf("tlsutil: uTLS handshake with %s: %w", serverName, err)
	}
	return uConn, nil
}
