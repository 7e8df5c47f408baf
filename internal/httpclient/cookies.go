package httpclient

import (
	"net/http"
	"net/url"

	"github.com/npbooking/bookingengine/internal/domain"
)

// SeedCookies seeds jar with the job's carried cookies in the
// deterministic order the upstream site expects: _ga, _ga_session,
// ci_session. A job with no ci_session falls back to userCI, the
// account's global token.
//
// Insertion is deduplicated by (name, domain, path): because the job,
// the fallback user token, and a previous call may all describe a cookie
// named ci_session for the same origin, the last write for a given key
// wins rather than the jar accumulating duplicate Set-Cookie entries for
// it (the "cookie jar aliasing" concern of a single ci_session shadowing
// the user-global token for that job only).
func SeedCookies(jar http.CookieJar, baseURL string, job *domain.Job, userCI string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	type keyed struct {
		name  string
		value string
	}

	ci := job.Cookies.CISession
	if ci == "" {
		ci = userCI
	}

	ordered := []keyed{
		{"_ga", job.Cookies.GA},
		{"_ga_session", job.Cookies.GASession},
		{"ci_session", ci},
	}

	seen := make(map[string]bool, len(ordered))
	cookies := make([]*http.Cookie, 0, len(ordered))
	for _, kv := range ordered {
		if kv.value == "" {
			continue
		}
		key := kv.name + "|" + u.Host + "|" + u.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		cookies = append(cookies, &http.Cookie{Name: kv.name, Value: kv.value, Path: "/"})
	}

	if len(cookies) > 0 {
		jar.SetCookies(u, cookies)
	}
	return nil
}
