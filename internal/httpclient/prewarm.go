package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

// Prewarm performs the two cheap GETs that warm a session's connection
// and seed any edge-set cookies before the booking window opens: the
// site's landing page, then the target booking page. Errors are
// returned, not swallowed; the orchestrator ignores a failed prewarm
// (non-fatal) and caches the session anyway.
func Prewarm(ctx context.Context, s *Session, bookingPath string) error {
	if err := get(ctx, s, s.BaseURL+"/"); err != nil {
		return fmt.Errorf("httpclient: prewarm landing page: %w", err)
	}
	if err := get(ctx, s, s.BaseURL+bookingPath); err != nil {
		return fmt.Errorf("httpclient: prewarm booking page: %w", err)
	}
	return nil
}

func get(ctx context.Context, s *Session, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
