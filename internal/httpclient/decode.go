package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody reads resp.Body in full, transparently unwrapping it
// according to its Content-Encoding header.
//
// BrowserHeaders advertises "Accept-Encoding: gzip, deflate, br" to match
// a real browser's request fingerprint. Setting Accept-Encoding
// explicitly on the request disables net/http's built-in transparent
// gzip handling (it only kicks in when the transport set the header
// itself), so every caller that reads a response body read through a
// Session must go through DecodeBody instead of io.ReadAll, or a
// compressing upstream would hand back undecoded bytes no JSON/HTML
// parser in this tree can read.
func DecodeBody(resp *http.Response) ([]byte, error) {
	reader := resp.Body
	var decoder io.Reader

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("httpclient: open gzip body: %w", err)
		}
		defer gz.Close()
		decoder = gz
	case "deflate":
		fl := flate.NewReader(reader)
		defer fl.Close()
		decoder = fl
	case "br":
		decoder = brotli.NewReader(reader)
	default:
		decoder = reader
	}

	body, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read response body: %w", err)
	}
	return body, nil
}
