// Package lookup reconstructs a booking from its confirmation code or a
// known secret by querying the upstream's DataTables-backed roster
// grids. RosterBySecret is used by the protocol driver's Semeru
// duplicate-identity recovery, which needs to enumerate and delete an
// existing roster before retrying submission; FindByCode has no caller in
// this module.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npbooking/bookingengine/internal/httpclient"
)

// Reservation is the reconstructed view of a confirmed booking: its
// secret/form_hash pair plus the roster rows visible on the public grid.
type Reservation struct {
	Secret   string
	FormHash string
	Code     string
	Members  []RosterRow
}

// RosterRow is one member row from the public booking grid.
type RosterRow struct {
	MemberID string
	Name     string
	Gender   string
}

// dataTablesResponse is the common DataTables server-side-processing
// response envelope.
type dataTablesResponse struct {
	Draw            int        `json:"draw"`
	RecordsTotal    int        `json:"recordsTotal"`
	RecordsFiltered int        `json:"recordsFiltered"`
	Data            [][]string `json:"data"`
}

// dataTablesForm builds the common paging/search fields a DataTables
// server-side endpoint expects.
func dataTablesForm(searchValue string, start, length int) url.Values {
	return url.Values{
		"draw":             {"1"},
		"start":            {strconv.Itoa(start)},
		"length":           {strconv.Itoa(length)},
		"search[value]":    {searchValue},
		"search[regex]":    {"false"},
		"order[0][column]": {"0"},
		"order[0][dir]":    {"asc"},
	}
}

func postDataTables(ctx context.Context, s *httpclient.Session, target string, form url.Values) (*dataTablesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := httpclient.DecodeBody(resp)
	if err != nil {
		return nil, err
	}

	var out dataTablesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("lookup: decode DataTables response: %w", err)
	}
	return &out, nil
}

// FindByCode reconstructs a Reservation from its confirmation code: POSTs
// to the member-visible grid with search[value]=code, extracts secret
// and form_hash from the matched row, then enumerates the full roster
// from the public grid.
func FindByCode(ctx context.Context, s *httpclient.Session, baseURL, code string) (*Reservation, error) {
	target := baseURL + "/member/booking/grid"
	resp, err := postDataTables(ctx, s, target, dataTablesForm(code, 0, 10))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("lookup: no booking found for code %q", code)
	}

	row := resp.Data[0]
	if len(row) < 3 {
		return nil, fmt.Errorf("lookup: unexpected grid row shape for code %q", code)
	}
	secret, formHash := row[len(row)-2], row[len(row)-1]

	// FindByCode has no booking date to scope by yet — the code already
	// uniquely identifies the reservation, so the roster grid is queried
	// unfiltered by date.
	members, err := rosterGrid(ctx, s, baseURL, secret, "")
	if err != nil {
		return nil, err
	}

	return &Reservation{Secret: secret, FormHash: formHash, Code: code, Members: members}, nil
}

// RosterBySecret enumerates every roster row registered against the
// (secret, date) compound key, via the public booking grid, paging
// through all DataTables pages. Used by the protocol driver to purge a
// roster before a duplicate-identity retry, so a secret reused across
// two different booking dates can't have the wrong date's roster purged.
func RosterBySecret(ctx context.Context, s *httpclient.Session, baseURL, secret string, date time.Time) ([]RosterRow, error) {
	return rosterGrid(ctx, s, baseURL, secret, date.Format("2006-01-02"))
}

// rosterGrid pages through the booking grid for secret, optionally
// scoped to dateStr ("2006-01-02"; pass "" to omit the date filter).
func rosterGrid(ctx context.Context, s *httpclient.Session, baseURL, secret, dateStr string) ([]RosterRow, error) {
	const pageSize = 25
	target := baseURL + "/website/booking/grid"

	var all []RosterRow
	start := 0
	for {
		form := dataTablesForm(secret, start, pageSize)
		form.Set("secret", secret)
		if dateStr != "" {
			form.Set("date", dateStr)
		}

		resp, err := postDataTables(ctx, s, target, form)
		if err != nil {
			return nil, err
		}
		for _, row := range resp.Data {
			if len(row) < 3 {
				continue
			}
			all = append(all, RosterRow{MemberID: row[0], Name: row[1], Gender: row[2]})
		}
		start += len(resp.Data)
		if start >= resp.RecordsFiltered || len(resp.Data) == 0 {
			break
		}
	}
	return all, nil
}
