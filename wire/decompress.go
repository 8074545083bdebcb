package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// Decompress decodes body according to a Content-Encoding token.  The
// empty token and "identity" return body unchanged; gzip and br are
// decoded; anything else is an error so the caller can fall back to the
// raw bytes.
func Decompress(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("wire: open gzip body: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("wire: decode gzip body: %w", err)
		}
		return out, nil
	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("wire: decode brotli body: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wire: unsupported content-encoding %q", encoding)
	}
}
