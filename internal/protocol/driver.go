package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/npbooking/bookingengine/internal/capacity"
	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
	"github.com/npbooking/bookingengine/internal/schemawatch"
)

// Outcome is the result of a single Book call.
type Outcome struct {
	Success    bool
	Message    string
	Link       string
	Code       string
	Raw        string
	ElapsedMS  int64
	IdempotencyKey string
}

// SiteEndpoints carries the upstream URLs and identifiers a Driver needs
// for one site.
type SiteEndpoints struct {
	BookingPath string // e.g. "/booking/site/bromo"
	IDSite      int
	Sector      int
}

// Driver implements the multi-step booking protocol: token acquisition,
// session priming, site-specific submission, and booking-code
// extraction. Grounded on the teacher's token.TokenRefreshManager shape
// (acquire → validate → refresh-on-expiry), adapted from bearer-token
// refresh to the upstream's secret/form_hash handshake.
type Driver struct {
	BaseURL string
	Prober  *capacity.Prober
	Sites   map[domain.Site]SiteEndpoints

	// ActionDrift watches the {status, message, link, code} shape every
	// action endpoint responds with. Nil disables drift detection.
	ActionDrift *schemawatch.Validator

	// OnDrift, if set, is called whenever ActionDrift detects a mismatch
	// against its learned baseline. cmd/bookingengine wires this to a
	// logged warning so upstream API changes surface instead of a silent
	// misparse.
	OnDrift func(mismatches []schemawatch.Mismatch)
}

// New builds a Driver bound to baseURL, a capacity Prober, and the
// per-site endpoint table. Action-response drift detection is enabled
// by default; set Driver.ActionDrift to nil to disable it.
func New(baseURL string, prober *capacity.Prober, sites map[domain.Site]SiteEndpoints) *Driver {
	return &Driver{BaseURL: baseURL, Prober: prober, Sites: sites, ActionDrift: schemawatch.NewValidator()}
}

// watchDrift validates body against ActionDrift's baseline and reports
// any mismatches through OnDrift. Parse failures are ignored here;
// checkValidationResponse already reports those as ErrNetworkTransient.
func (d *Driver) watchDrift(body string) {
	if d.ActionDrift == nil {
		return
	}
	mismatches, err := d.ActionDrift.Validate([]byte(body))
	if err != nil || len(mismatches) == 0 {
		return
	}
	if d.OnDrift != nil {
		d.OnDrift(mismatches)
	}
}

// Book runs the full protocol for one job: capacity precondition, token
// acquisition, session priming, and the site-specific submission path.
// The idempotency key passed to do_booking is derived once per logical
// attempt (not per HTTP retry), via a UUID, so retries of the *same*
// attempt share one key while a fresh Book call gets a new one. It is
// sent both as the "idempotency_key" form field (what the booking sites
// actually parse server-side, matching update_hash/validate_booking's own
// secret/form_hash form-field convention) and as the X-Idempotency-Key
// request header, so a reverse proxy or WAF in front of the site can
// dedupe retried submissions without inspecting the POST body.
func (d *Driver) Book(ctx context.Context, site domain.Site, date time.Time, profile domain.Profile, s *httpclient.Session) (Outcome, error) {
	start := time.Now()

	ep, ok := d.Sites[site]
	if !ok {
		return Outcome{}, fmt.Errorf("protocol: unknown site %q", site)
	}

	row, err := d.Prober.Check(ctx, s, site, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	if row == nil || !row.Available {
		return Outcome{Success: false, Message: "quota unavailable", ElapsedMS: time.Since(start).Milliseconds()}, ErrQuotaUnavailable
	}

	desc, err := acquireToken(ctx, s, ep.BookingPath, date)
	if err != nil {
		return Outcome{}, err
	}

	refererURL := d.BaseURL + ep.BookingPath
	if err := d.prime(ctx, s, desc, refererURL); err != nil {
		return Outcome{}, err
	}

	idem := uuid.NewString()

	var outcome Outcome
	switch p := profile.(type) {
	case *domain.BromoProfile:
		outcome, err = d.bookBromo(ctx, s, ep, desc, date, p, refererURL, idem)
	case *domain.SemeruProfile:
		outcome, err = d.bookSemeru(ctx, s, ep, desc, date, p, refererURL, idem)
	default:
		return Outcome{}, fmt.Errorf("protocol: unsupported profile type %T", profile)
	}

	outcome.ElapsedMS = time.Since(start).Milliseconds()
	outcome.IdempotencyKey = idem
	return outcome, err
}

// actionRequest builds a POST request to the booking action endpoint
// with AJAX headers.
func (d *Driver) actionRequest(ctx context.Context, s *httpclient.Session, form url.Values, refererURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/website/booking/action", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", d.BaseURL)
	req.Header.Set("Referer", refererURL)
	return req, nil
}

// doAction executes an action POST and returns the raw response body,
// classifying transport/5xx failures as ErrNetworkTransient.
func (d *Driver) doAction(s *httpclient.Session, req *http.Request) (string, int, error) {
	resp, err := s.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	defer resp.Body.Close()

	body, err := httpclient.DecodeBody(resp)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	if resp.StatusCode >= 500 || len(body) == 0 {
		return "", resp.StatusCode, fmt.Errorf("%w: status %d", ErrNetworkTransient, resp.StatusCode)
	}
	d.watchDrift(string(body))
	return string(body), resp.StatusCode, nil
}

// prime performs the two AJAX POSTs that establish the booking session:
// update_hash then validate_booking. Failures here are fatal.
func (d *Driver) prime(ctx context.Context, s *httpclient.Session, desc *Descriptor, refererURL string) error {
	updateForm := url.Values{
		"action":    {"update_hash"},
		"secret":    {desc.Secret},
		"form_hash": {desc.FormHash},
	}
	req, err := d.actionRequest(ctx, s, updateForm, refererURL)
	if err != nil {
		return err
	}
	if _, _, err := d.doAction(s, req); err != nil {
		return err
	}

	return d.validateBooking(ctx, s, desc, refererURL)
}

func (d *Driver) validateBooking(ctx context.Context, s *httpclient.Session, desc *Descriptor, refererURL string) error {
	form := url.Values{
		"action":    {"validate_booking"},
		"secret":    {desc.Secret},
		"form_hash": {desc.FormHash},
	}
	req, err := d.actionRequest(ctx, s, form, refererURL)
	if err != nil {
		return err
	}
	body, _, err := d.doAction(s, req)
	if err != nil {
		return err
	}
	return checkValidationResponse(body)
}

// genericResponse is the common {status, message} shape every action
// endpoint responds with.
type genericResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Link    string `json:"link"`
	Code    string `json:"code"`
}

func checkValidationResponse(body string) error {
	var resp genericResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	if resp.Status {
		return nil
	}
	return classifyUpstreamMessage(resp.Message)
}

// classifyUpstreamMessage maps a literal upstream message to the
// appropriate sentinel error kind.
func classifyUpstreamMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "maksimal 9"):
		return fmt.Errorf("%w: %s", ErrRosterSaturation, msg)
	case strings.Contains(lower, "nomor identitas ganda"):
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, msg)
	case strings.Contains(lower, "minimal 2"):
		return fmt.Errorf("%w: %s", ErrMinimumRoster, msg)
	case strings.Contains(lower, "session") || strings.Contains(lower, "ci_session") || strings.Contains(lower, "expired"):
		return fmt.Errorf("%w: %s", ErrSessionExpired, msg)
	default:
		return &ValidationError{Message: msg}
	}
}
