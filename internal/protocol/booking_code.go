package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
)

// codePathPattern matches a path segment such as "BRM-2025093000-1" —
// two-or-more uppercase letters, a hyphen, then digits/hyphens.
var codePathPattern = regexp.MustCompile(`^[A-Z]{2,}-[0-9-]{6,}$`)

// submissionResponse is the fuller do_booking response shape, carrying
// the several places a booking code might appear.
type submissionResponse struct {
	Status           bool   `json:"status"`
	Message          string `json:"message"`
	Link             string `json:"link"`
	Code             string `json:"code"`
	BookingCode      string `json:"booking_code"`
	BookingCodeCamel string `json:"bookingCode"`
	Booking          struct {
		Code string `json:"code"`
	} `json:"booking"`
}

// finalizeSubmission interprets a do_booking response: on status=false
// classifies the message into a sentinel error; on status=true extracts
// the confirmation code via the cascade the spec names.
func finalizeSubmission(body string) (Outcome, error) {
	var resp submissionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Outcome{Raw: body}, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	if !resp.Status {
		return Outcome{Raw: body, Message: resp.Message}, classifyUpstreamMessage(resp.Message)
	}

	code := extractBookingCode(resp)
	return Outcome{
		Success: true,
		Message: resp.Message,
		Link:    resp.Link,
		Code:    code,
		Raw:     body,
	}, nil
}

// extractBookingCode derives the confirmation code from, in order:
// JSON fields code|booking_code|bookingCode; nested booking.code; the
// ?code= query parameter of the returned link; any path segment of the
// link matching ^[A-Z]{2,}-[0-9-]{6,}$.
func extractBookingCode(resp submissionResponse) string {
	if resp.Code != "" {
		return resp.Code
	}
	if resp.BookingCode != "" {
		return resp.BookingCode
	}
	if resp.BookingCodeCamel != "" {
		return resp.BookingCodeCamel
	}
	if resp.Booking.Code != "" {
		return resp.Booking.Code
	}
	if resp.Link == "" {
		return ""
	}
	if u, err := url.Parse(resp.Link); err == nil {
		if code := u.Query().Get("code"); code != "" {
			return code
		}
		for _, seg := range splitPath(u.Path) {
			if codePathPattern.MatchString(seg) {
				return seg
			}
		}
	}
	return ""
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}
