// Package httpclient builds the per-job HTTP client: a tuned connection
// pool, a public-suffix-aware cookie jar seeded with the job's carried
// cookies, and realistic browser headers. It generalizes the teacher's
// client/client.go (a session-fleet client factory) into a per-job
// factory invoked once per booking attempt.
package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/npbooking/bookingengine/internal/domain"
)

// Factory builds *http.Client instances tuned for the upstream booking
// site. A single Factory is shared across jobs; each call to New
// produces an independent client (and cookie jar) so jobs never share
// session state.
type Factory struct {
	timeout             time.Duration
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
	proxy               string
}

// NewFactory builds a Factory. proxy is an optional "http://host:port"
// URL string; empty runs direct.
func NewFactory(timeout time.Duration, maxIdleConns, maxIdleConnsPerHost, maxConnsPerHost int, proxy string) *Factory {
	return &Factory{
		timeout:             timeout,
		maxIdleConns:        maxIdleConns,
		maxIdleConnsPerHost: maxIdleConnsPerHost,
		maxConnsPerHost:     maxConnsPerHost,
		proxy:               proxy,
	}
}

// New constructs a *http.Client with a dedicated transport and a
// public-suffix-aware cookie jar.
//
// Design decisions (adapted from the teacher's NewHTTPClient):
//
//  1. A dedicated http.Transport per client avoids lock contention on a
//     shared global pool when several jobs' timers fire in the same
//     second.
//  2. Keep-alives stay on so sequential requests within one booking
//     attempt (prime → token → validate → submit) reuse the same TCP
//     connection.
//  3. Connection-pool limits bound file-descriptor usage while still
//     allowing the per-attempt request burst.
//  4. IdleConnTimeout evicts stale connections the remote or an
//     intermediate proxy silently closed.
//  5. TLSHandshakeTimeout bounds time spent on TLS negotiation.
//  6. The cookie jar uses publicsuffix.List so cookies never leak across
//     effective top-level domains — the teacher's jar passed nil options
//     here, which is weaker than the teacher's own comment promised.
func (f *Factory) New() (*http.Client, error) {
	transport, err := f.buildTransport()
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpclient: create cookie jar: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   f.timeout,
	}, nil
}

func (f *Factory) buildTransport() (*http.Transport, error) {
	t := &http.Transport{
		DisableKeepAlives:     false,
		MaxIdleConns:          f.maxIdleConns,
		MaxIdleConnsPerHost:   f.maxIdleConnsPerHost,
		MaxConnsPerHost:       f.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if f.proxy != "" {
		proxyURL, err := url.Parse(f.proxy)
		if err != nil {
			return nil, fmt.Errorf("httpclient: parse proxy URL %q: %w", f.proxy, err)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}

	return t, nil
}

// Session bundles a per-job HTTP client with the ordered headers applied
// to every outgoing request.
type Session struct {
	Client  *http.Client
	Headers *OrderedHeader
	BaseURL string
}

// NewSession builds a Session for a single job execution: a fresh client
// from f, BrowserHeaders, and cookies seeded per SeedCookies.
func (f *Factory) NewSession(baseURL string, job *domain.Job, userCI string) (*Session, error) {
	client, err := f.New()
	if err != nil {
		return nil, err
	}
	if err := SeedCookies(client.Jar, baseURL, job, userCI); err != nil {
		return nil, err
	}
	return &Session{
		Client:  client,
		Headers: BrowserHeaders(),
		BaseURL: baseURL,
	}, nil
}

// Do executes req after applying the session's ordered headers. Headers
// already set on req take precedence over the session's defaults.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	perRequest := req.Header
	s.Headers.Clone().ApplyToRequest(req)
	for k, v := range perRequest {
		req.Header[k] = v
	}
	return s.Client.Do(req)
}
