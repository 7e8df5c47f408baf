package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/npbooking/bookingengine/internal/httpclient"
)

// Descriptor is the {secret, form_hash} pair extracted from a booking
// page's embedded JSON.
type Descriptor struct {
	Secret   string `json:"secret"`
	FormHash string `json:"form_hash"`
}

// acquireToken GETs the site's booking page with a date_depart query and
// a cache-busting param, then extracts the embedded descriptor.
//
// Extraction cascades through three strategies, in order, stopping at
// the first that yields both keys:
//  1. a single element with class "cnt-page"
//  2. a <script id="cnt-page" type="application/json"> element
//  3. any inline <script> containing both "booking" and "secret",
//     scanning for the innermost {...} that parses as JSON with both
//     keys present.
//
// A missing or unparseable descriptor returns ErrTokenExtraction with
// the raw HTML archived in the returned error for debugging.
func acquireToken(ctx context.Context, s *httpclient.Session, bookingPath string, date time.Time) (*Descriptor, error) {
	target := fmt.Sprintf("%s%s?date_depart=%s&_=%d", s.BaseURL, bookingPath, date.Format("2006-01-02"), time.Now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	resp, err := s.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	defer resp.Body.Close()

	body, err := httpclient.DecodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	if resp.StatusCode >= 500 || len(body) == 0 {
		return nil, fmt.Errorf("%w: status %d", ErrNetworkTransient, resp.StatusCode)
	}

	desc, err := extractDescriptor(string(body))
	if err != nil {
		return nil, &TokenExtractionError{RawHTML: string(body), cause: err}
	}
	return desc, nil
}

// TokenExtractionError archives the raw HTML that failed to yield a
// descriptor, for later debugging without re-fetching the page.
type TokenExtractionError struct {
	RawHTML string
	cause   error
}

func (e *TokenExtractionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTokenExtraction, e.cause)
}
func (e *TokenExtractionError) Unwrap() error { return ErrTokenExtraction }

func extractDescriptor(body string) (*Descriptor, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if d := findByClass(doc, "cnt-page"); d != nil {
		return d, nil
	}
	if d := findByScriptID(doc, "cnt-page"); d != nil {
		return d, nil
	}
	if d := findInInlineScripts(doc); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("no descriptor found by any of the three cascades")
}

func findByClass(n *html.Node, class string) *Descriptor {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "class" && hasClass(a.Val, class) {
				if d := decodeDescriptor(textContent(n)); d != nil {
					return d
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if d := findByClass(c, class); d != nil {
			return d
		}
	}
	return nil
}

func hasClass(attrVal, class string) bool {
	for _, c := range strings.Fields(attrVal) {
		if c == class {
			return true
		}
	}
	return false
}

func findByScriptID(n *html.Node, id string) *Descriptor {
	if n.Type == html.ElementNode && n.Data == "script" {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				if d := decodeDescriptor(textContent(n)); d != nil {
					return d
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if d := findByScriptID(c, id); d != nil {
			return d
		}
	}
	return nil
}

func findInInlineScripts(n *html.Node) *Descriptor {
	if n.Type == html.ElementNode && n.Data == "script" {
		text := textContent(n)
		if strings.Contains(text, "booking") && strings.Contains(text, "secret") {
			if d := innermostJSONDescriptor(text); d != nil {
				return d
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if d := findInInlineScripts(c); d != nil {
			return d
		}
	}
	return nil
}

// innermostJSONDescriptor scans text for every brace-delimited substring
// and returns the descriptor parsed from the innermost (shortest) one
// that carries both "booking" and "secret" keys.
func innermostJSONDescriptor(text string) *Descriptor {
	type span struct{ start, end int }
	var candidates []span

	var stack []int
	for i, r := range text {
		switch r {
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			candidates = append(candidates, span{start: start, end: i + 1})
		}
	}

	bestLen := -1
	var bestDescriptor *Descriptor
	for _, c := range candidates {
		sub := text[c.start:c.end]
		if !strings.Contains(sub, "secret") {
			continue
		}
		d := decodeDescriptor(sub)
		if d == nil {
			continue
		}
		length := c.end - c.start
		if bestLen == -1 || length < bestLen {
			bestLen = length
			bestDescriptor = d
		}
	}
	return bestDescriptor
}

// decodeDescriptor attempts to unmarshal raw as a Descriptor, accepting
// either {secret, form_hash} directly or {booking:{secret, form_hash}}.
func decodeDescriptor(raw string) *Descriptor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// form_hash may arrive as a JSON string or a bare number.
	hashString := func(v json.RawMessage) string {
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
		return string(v)
	}

	var direct struct {
		Secret   string          `json:"secret"`
		FormHash json.RawMessage `json:"form_hash"`
	}
	if err := json.Unmarshal([]byte(raw), &direct); err == nil && direct.Secret != "" {
		return &Descriptor{Secret: direct.Secret, FormHash: hashString(direct.FormHash)}
	}

	var nested struct {
		Booking struct {
			Secret   string          `json:"secret"`
			FormHash json.RawMessage `json:"form_hash"`
		} `json:"booking"`
	}
	if err := json.Unmarshal([]byte(raw), &nested); err == nil && nested.Booking.Secret != "" {
		return &Descriptor{Secret: nested.Booking.Secret, FormHash: hashString(nested.Booking.FormHash)}
	}

	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
