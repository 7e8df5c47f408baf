package protocol

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
)

// bookBromo drives the Bromo day-use gate submission path: an optional
// roster update for non-zero male/female headcounts, then do_booking.
func (d *Driver) bookBromo(ctx context.Context, s *httpclient.Session, ep SiteEndpoints, desc *Descriptor, date time.Time, p *domain.BromoProfile, refererURL, idem string) (Outcome, error) {
	if p.Male > 0 || p.Female > 0 {
		form := url.Values{
			"action":      {"anggota_update"},
			"male":        {strconv.Itoa(p.Male)},
			"female":      {strconv.Itoa(p.Female)},
			"id_country":  {"99"},
			"secret":      {desc.Secret},
			"form_hash":   {desc.FormHash},
		}
		req, err := d.actionRequest(ctx, s, form, refererURL)
		if err != nil {
			return Outcome{}, err
		}
		body, _, err := d.doAction(s, req)
		if err != nil {
			return Outcome{}, err
		}
		if err := checkValidationResponse(body); err != nil {
			return Outcome{}, err
		}
	}

	form := url.Values{
		"action":           {"do_booking"},
		"site":             {"Bromo"},
		"id_sector":        {strconv.Itoa(ep.Sector)},
		"id_gate":          {strconv.Itoa(p.Gate)},
		"id_vehicle":       {strconv.Itoa(p.Vehicle)},
		"vehicle_count":    {strconv.Itoa(p.VehicleCount)},
		"date_depart":      {date.Format("2006-01-02")},
		"date_arrival":     {date.Format("2006-01-02")},
		"name":             {p.Leader.Name},
		"address":          {p.Leader.Address},
		"identity_kind":    {p.Leader.IdentityKind},
		"identity_no":      {p.Leader.IdentityNo},
		"phone":            {p.Leader.Phone},
		"email":            {p.Leader.Email},
		"bank":             {string(p.Bank)},
		"province_code":    {p.ProvinceCode},
		"district_code":    {p.DistrictCode},
		"termsCheckbox":    {"on"},
		"secret":           {desc.Secret},
		"form_hash":        {desc.FormHash},
		"idempotency_key":  {idem},
	}
	req, err := d.actionRequest(ctx, s, form, refererURL)
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("X-Idempotency-Key", idem)
	body, _, err := d.doAction(s, req)
	if err != nil {
		return Outcome{}, err
	}

	return finalizeSubmission(body)
}
