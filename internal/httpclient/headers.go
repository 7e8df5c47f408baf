package httpclient

import (
	"net/http"
)

// headerEntry stores a single header key/value pair with its original
// casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a drop-in companion to http.Header that preserves the
// exact capitalisation and insertion order of HTTP headers, adapted from
// the teacher's client/ordered_header.go. Sending headers in the exact
// order and casing a real browser uses (rather than whatever order Go's
// map iteration would produce) matters here because the upstream site's
// WAF has been observed to reject requests with out-of-order or
// lowercase-normalized headers as non-browser traffic.
//
// OrderedHeader is NOT safe for concurrent use without external
// synchronisation. Each session builds its own OrderedHeader before the
// goroutine that uses it starts, so no additional locking is required.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value to the header list, preserving the exact casing
// of key. Multiple calls with the same key produce multiple entries.
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively)
// with the new value and removes any subsequent duplicates. If no entry
// with that key exists, Set behaves like Add.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Get returns the value of the first entry whose key matches key
// (case-insensitively), or an empty string if no such entry exists.
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Len returns the number of header entries (including duplicates).
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Clone returns a shallow copy of the receiver.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ApplyToRequest writes every entry in h into req.Header, preserving the
// exact key casing and insertion order by bypassing net/http's
// canonical-key normalisation and writing directly into the underlying
// map. Any headers already present in req.Header are replaced, not
// merged.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}

// BrowserHeaders returns an OrderedHeader pre-populated with the standard
// request headers a desktop Chrome client sends, localized to the
// upstream site's expected Indonesian audience (id,en;q=0.9). This is the
// single canonical header/UA set for every job, resolving in favor of one
// profile rather than the multi-browser split the teacher's
// ChromeOrderedHeaders/firefoxTLSConfig pairing offered.
//
// Callers call ApplyToRequest before executing each request so that
// per-request values (e.g. Referer) can be overridden with Set after
// construction.
func BrowserHeaders() *OrderedHeader {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("Upgrade-Insecure-Requests", "1")
	h.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Add("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Add("sec-fetch-site", "same-origin")
	h.Add("sec-fetch-mode", "navigate")
	h.Add("sec-fetch-user", "?1")
	h.Add("sec-fetch-dest", "document")
	h.Add("accept-encoding", "gzip, deflate, br")
	h.Add("accept-language", "id,en;q=0.9")
	return h
}
