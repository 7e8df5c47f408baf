package protocol

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
	"github.com/npbooking/bookingengine/internal/lookup"
)

// bookSemeru drives the Semeru multi-day trek submission path: per-member
// roster rows followed by do_booking, with the recovery steps spec.md
// §4.E numbers:
//  1. add members[0]; on ErrRosterSaturation rebuild the session and
//     retry once.
//  2. add members[1..8] in order, stopping early on ErrRosterSaturation.
//  3. re-validate then do_booking.
//  4. on ErrMinimumRoster, add members[0] and retry step 3 once.
//  5. on ErrDuplicateIdentity, purge the existing roster via the
//     Booking Lookup grid and retry step 3.
func (d *Driver) bookSemeru(ctx context.Context, s *httpclient.Session, ep SiteEndpoints, desc *Descriptor, date time.Time, p *domain.SemeruProfile, refererURL, idem string) (Outcome, error) {
	if len(p.Members) == 0 {
		return Outcome{}, errors.New("protocol: semeru booking requires leader plus at least one member")
	}

	// Step 1: first member, with one session-rebuild retry on
	// saturation (a prior attempt can leave a stale server-side roster
	// behind the same secret).
	desc, err := d.addMember(ctx, s, ep, desc, p.Members[0], refererURL)
	if errors.Is(err, ErrRosterSaturation) {
		desc, err = acquireToken(ctx, s, ep.BookingPath, date)
		if err != nil {
			return Outcome{}, err
		}
		if err := d.prime(ctx, s, desc, refererURL); err != nil {
			return Outcome{}, err
		}
		desc, err = d.addMember(ctx, s, ep, desc, p.Members[0], refererURL)
	}
	if err != nil {
		return Outcome{}, err
	}

	// Step 2: remaining members, stopping early on saturation.
	for i := 1; i < len(p.Members) && i < domain.MaxSemeruMembers; i++ {
		if _, err := d.addMember(ctx, s, ep, desc, p.Members[i], refererURL); err != nil {
			if errors.Is(err, ErrRosterSaturation) {
				break
			}
			return Outcome{}, err
		}
		time.Sleep(150 * time.Millisecond) // pause briefly between roster calls
	}

	// Step 3: re-validate then submit.
	outcome, err := d.submitSemeru(ctx, s, ep, desc, date, p, refererURL, idem)

	// Step 4: leader's first member missing server-side; add it and
	// retry once.
	if errors.Is(err, ErrMinimumRoster) {
		if _, addErr := d.addMember(ctx, s, ep, desc, p.Members[0], refererURL); addErr != nil {
			return Outcome{}, addErr
		}
		outcome, err = d.submitSemeru(ctx, s, ep, desc, date, p, refererURL, idem)
	}

	// Step 5: duplicate identity from a prior attempt; purge the
	// existing roster for this secret/date and retry.
	if errors.Is(err, ErrDuplicateIdentity) {
		if purgeErr := d.purgeRoster(ctx, s, desc, date, refererURL); purgeErr != nil {
			return Outcome{}, purgeErr
		}
		if err := d.validateBooking(ctx, s, desc, refererURL); err != nil {
			return Outcome{}, err
		}
		outcome, err = d.submitSemeru(ctx, s, ep, desc, date, p, refererURL, idem)
	}

	return outcome, err
}

func (d *Driver) addMember(ctx context.Context, s *httpclient.Session, ep SiteEndpoints, desc *Descriptor, m domain.Member, refererURL string) (*Descriptor, error) {
	form := url.Values{
		"action":        {"member_update"},
		"id":            {""},
		"secret":        {desc.Secret},
		"form_hash":     {desc.FormHash},
		"name":          {m.Name},
		"birthdate":     {m.Birthdate},
		"gender":        {strconv.Itoa(m.Gender)},
		"address":       {m.Address},
		"identity_kind": {m.IdentityKind},
		"identity_no":   {m.IdentityNo},
		"member_phone":  {m.MemberPhone},
		"family_phone":  {m.FamilyPhone},
		"job_code":      {m.JobCode},
		"id_country":    {"99"},
	}
	req, err := d.actionRequest(ctx, s, form, refererURL)
	if err != nil {
		return nil, err
	}
	body, _, err := d.doAction(s, req)
	if err != nil {
		return nil, err
	}
	if err := checkValidationResponse(body); err != nil {
		return nil, err
	}
	return desc, nil
}

func (d *Driver) submitSemeru(ctx context.Context, s *httpclient.Session, ep SiteEndpoints, desc *Descriptor, date time.Time, p *domain.SemeruProfile, refererURL, idem string) (Outcome, error) {
	if err := d.validateBooking(ctx, s, desc, refererURL); err != nil {
		return Outcome{}, err
	}

	form := url.Values{
		"action":          {"do_booking"},
		"site":             {"Semeru"},
		"id_sector":        {strconv.Itoa(ep.Sector)},
		"id_site":          {strconv.Itoa(ep.IDSite)},
		"date_depart":      {date.Format("2006-01-02")},
		"date_arrival":     {date.AddDate(0, 0, 1).Format("2006-01-02")},
		"name":             {p.Leader.Name},
		"address":          {p.Leader.Address},
		"identity_kind":    {p.Leader.IdentityKind},
		"identity_no":      {p.Leader.IdentityNo},
		"phone":            {p.Leader.Phone},
		"email":            {p.Leader.Email},
		"organisation":     {p.Leader.Organisation},
		"pendamping":       {strconv.Itoa(p.Leader.Pendamping)},
		"leader_setuju":    {strconv.Itoa(p.Leader.LeaderConsent)},
		"bank":             {string(p.Leader.Bank)},
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

// purgeRoster enumerates the existing roster for desc.Secret and date via
// the Booking Lookup grid and deletes each row with member_delete.
func (d *Driver) purgeRoster(ctx context.Context, s *httpclient.Session, desc *Descriptor, date time.Time, refererURL string) error {
	rows, err := lookup.RosterBySecret(ctx, s, d.BaseURL, desc.Secret, date)
	if err != nil {
		return err
	}
	for _, row := range rows {
		form := url.Values{
			"action": {"member_delete"},
			"secret": {desc.Secret},
			"id":     {row.MemberID},
		}
		req, err := d.actionRequest(ctx, s, form, refererURL)
		if err != nil {
			return err
		}
		body, _, err := d.doAction(s, req)
		if err != nil {
			return err
		}
		if err := checkValidationResponse(body); err != nil {
			return err
		}
	}
	return nil
}
