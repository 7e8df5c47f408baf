// Package protocol drives the multi-step upstream booking flow: token
// acquisition from an HTML-embedded JSON descriptor, AJAX session
// priming, site-specific roster maintenance, and final submission with
// duplicate recovery. It is grounded on the token refresh/validation
// shape of the teacher's token package, generalized from JWT bearer
// tokens to the upstream's secret/form_hash pair.
package protocol

import "errors"

// Sentinel error kinds the orchestrator distinguishes when deciding
// whether to retry, poll, or surface a message to the user.
var (
	// ErrNetworkTransient covers connect/read timeouts, 5xx responses,
	// and empty bodies. Retried by the aggressive retry envelope;
	// otherwise surfaced as a failure with elapsed time. Never fatal to
	// the job record.
	ErrNetworkTransient = errors.New("protocol: transient network error")

	// ErrTokenExtraction means the booking page's embedded descriptor
	// could not be found or parsed. Fatal to this attempt.
	ErrTokenExtraction = errors.New("protocol: token extraction failed")

	// ErrQuotaUnavailable is not an error condition in the usual sense —
	// it signals the orchestrator to arm the polling track instead of
	// treating the attempt as failed.
	ErrQuotaUnavailable = errors.New("protocol: quota unavailable")

	// ErrSessionExpired means the server indicated a stale ci_session.
	// Surfaced to the user via a reminder-style notification; the job
	// record is kept so the user can refresh cookies.
	ErrSessionExpired = errors.New("protocol: session expired")

	// ErrRosterSaturation is the "maksimal 9 anggota" condition,
	// recovered once by rebuilding the session, then propagated if it
	// recurs.
	ErrRosterSaturation = errors.New("protocol: roster saturation")

	// ErrDuplicateIdentity is the "nomor identitas ganda" condition,
	// recovered by purging the existing roster and retrying.
	ErrDuplicateIdentity = errors.New("protocol: duplicate identity")

	// ErrValidationServer wraps a status=false response with an
	// explanatory message from the upstream, surfaced verbatim.
	ErrValidationServer = errors.New("protocol: validation rejected")

	// ErrMinimumRoster is the "minimal 2" condition: the leader's first
	// member was not recorded by a prior call.
	ErrMinimumRoster = errors.New("protocol: roster below minimum")
)

// ValidationError wraps ErrValidationServer with the upstream's literal
// message so it can be surfaced verbatim to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "protocol: " + e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidationServer }
