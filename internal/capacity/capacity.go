// Package capacity implements the capacity probe: a POST against the
// upstream monthly availability grid, parsed with golang.org/x/net/html
// to find the row for a specific calendar date. A probe result is
// deliberately never cached — the orchestrator is expected to re-probe
// at the exact instant it is about to submit.
package capacity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
)

// Row is the parsed capacity-grid entry for one calendar date.
type Row struct {
	DateLabel string
	Quota     int
	Available bool
}

// Prober probes the monthly grid for one of the two sites.
type Prober struct {
	BaseURL string
	Sites   map[domain.Site]int // site -> id_site
}

// New builds a Prober bound to baseURL and the id_site values for bromo
// and semeru.
func New(baseURL string, bromoIDSite, semeruIDSite int) *Prober {
	return &Prober{
		BaseURL: baseURL,
		Sites: map[domain.Site]int{
			domain.SiteBromo:  bromoIDSite,
			domain.SiteSemeru: semeruIDSite,
		},
	}
}

// Check fetches the monthly grid containing date and returns the row
// matching it. Network or parse errors are non-fatal per spec: they
// return (nil, nil), not an error, so a transient probe failure never
// aborts a booking attempt outright — the caller treats a nil Row the
// same as "quota unknown, do not submit yet".
func (p *Prober) Check(ctx context.Context, s *httpclient.Session, site domain.Site, date time.Time) (*Row, error) {
	idSite, ok := p.Sites[site]
	if !ok {
		return nil, fmt.Errorf("capacity: unknown site %q", site)
	}

	yearMonth := date.Format("2006-01")
	form := url.Values{
		"action":     {"kapasitas"},
		"id_site":    {strconv.Itoa(idSite)},
		"year_month": {yearMonth},
	}

	// Cache-busting query param, belt-and-suspenders alongside the
	// explicit Cache-Control header below.
	target := p.BaseURL + "/website/home/get_view?_=" + strconv.FormatInt(time.Now().UnixNano(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil //nolint:nilerr // probe failures are non-fatal by design
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.Do(req)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	defer resp.Body.Close()

	body, err := httpclient.DecodeBody(resp)
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	row, err := parseGrid(string(body), date)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	return row, nil
}

// parseGrid walks the HTML table in body looking for the row whose date
// cell matches date, returning its label and parsed quota.
func parseGrid(body string, date time.Time) (*Row, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	wantDay := date.Format("2006-01-02")
	wantAlt := date.Format("2-1-2006")

	var found *Row
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := collectCellText(n)
			if len(cells) >= 2 {
				label := strings.TrimSpace(cells[0])
				if label == wantDay || label == wantAlt || strings.Contains(label, wantDay) {
					quota, qerr := strconv.Atoi(strings.TrimSpace(cells[1]))
					if qerr == nil {
						found = &Row{DateLabel: label, Quota: quota, Available: quota > 0}
						return
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if found != nil {
				return
			}
		}
	}
	walk(doc)

	if found == nil {
		return nil, fmt.Errorf("capacity: no row for date %s", wantDay)
	}
	return found, nil
}

func collectCellText(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, textContent(c))
		}
	}
	return cells
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
