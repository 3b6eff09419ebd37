// Package venue implements the per-venue market adapters.
//
// Each adapter pulls raw market records from one provider's REST API,
// normalizes them into types.NormalizedMarket, enforces that venue's rate
// limit, and reports health to a sink. Two adapters exist:
//   - Venue-A: Gamma-shaped API — flat JSON array pages, offset paging,
//     outcome names and prices as JSON-encoded string arrays.
//   - Venue-B: Kalshi-shaped API — enveloped pages with a cursor,
//     cents-denominated prices, optional bearer token.
package venue

import (
	"context"
	"errors"
	"fmt"

	"marketfuse/pkg/types"
)

// ErrAuth marks an authentication rejection by a venue. Unlike transient
// fetch failures it is never retried.
var ErrAuth = errors.New("venue authentication rejected")

// FetchError wraps a venue HTTP failure that survived retries. Callers
// continue with the remaining venues; the failure surfaces as degraded
// health, not as a request error.
type FetchError struct {
	Venue types.Venue
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Venue, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Adapter is one venue's ingest surface.
type Adapter interface {
	// Venue returns the tag this adapter exclusively owns.
	Venue() types.Venue
	// FetchMarkets pulls and normalizes markets. A nil error may still
	// accompany an empty slice (venue has nothing matching the filter).
	FetchMarkets(ctx context.Context, opts types.FetchOptions) ([]types.NormalizedMarket, error)
}

// HealthSink receives per-call health transitions from adapters. The cache
// satisfies this interface; a nil sink is allowed and ignored.
type HealthSink interface {
	ReportAttempt(v types.Venue)
	ReportSuccess(v types.Venue)
	ReportFailure(v types.Venue, err error)
}

func reportAttempt(s HealthSink, v types.Venue) {
	if s != nil {
		s.ReportAttempt(v)
	}
}

func reportSuccess(s HealthSink, v types.Venue) {
	if s != nil {
		s.ReportSuccess(v)
	}
}

func reportFailure(s HealthSink, v types.Venue, err error) {
	if s != nil {
		s.ReportFailure(v, err)
	}
}
