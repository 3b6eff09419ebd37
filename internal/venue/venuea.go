package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"marketfuse/internal/config"
	"marketfuse/pkg/types"
)

// gammaMarket is the JSON shape Venue-A returns. Outcome names and prices
// arrive as JSON-encoded string arrays inside string fields, liquidity as a
// decimal string.
type gammaMarket struct {
	ID                  string  `json:"id"`
	Question            string  `json:"question"`
	Category            string  `json:"category"`
	EndDate             string  `json:"endDate"`
	Outcomes            string  `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices       string  `json:"outcomePrices"` // e.g. "[\"0.52\",\"0.48\"]"
	Volume24hr          float64 `json:"volume24hr"`
	Liquidity           string  `json:"liquidity"`
	Active              bool    `json:"active"`
	Closed              bool    `json:"closed"`
	Image               string  `json:"image"`
	UmaResolutionStatus string  `json:"umaResolutionStatus"`
}

// VenueA pulls markets from the Gamma-shaped API using offset paging.
type VenueA struct {
	http   *resty.Client
	rl     *WindowLimiter
	cfg    config.VenueConfig
	health HealthSink
	logger *slog.Logger
}

// NewVenueA creates the Venue-A adapter.
func NewVenueA(cfg config.VenueConfig, health HealthSink, logger *slog.Logger) *VenueA {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &VenueA{
		http:   client,
		rl:     NewWindowLimiter(cfg.RateLimitPerMin, time.Minute),
		cfg:    cfg,
		health: health,
		logger: logger.With("component", "venue-a"),
	}
}

// Venue returns the tag this adapter owns.
func (a *VenueA) Venue() types.Venue { return types.VenueA }

// FetchMarkets pulls markets page by page, normalizing as it goes.
// Paging stops when a page comes back short or MaxPages is reached.
func (a *VenueA) FetchMarkets(ctx context.Context, opts types.FetchOptions) ([]types.NormalizedMarket, error) {
	reportAttempt(a.health, types.VenueA)

	limit := opts.Limit
	if limit <= 0 {
		limit = a.cfg.PageLimit
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var out []types.NormalizedMarket
	offset := 0
	for page := 0; page < maxPages; page++ {
		records, err := a.fetchPage(ctx, opts.Status, limit, offset)
		if err != nil {
			reportFailure(a.health, types.VenueA, err)
			return nil, &FetchError{Venue: types.VenueA, Err: err}
		}

		for _, raw := range records {
			if m, ok := a.normalize(raw); ok {
				out = append(out, m)
			}
		}

		if len(records) < limit {
			break
		}
		offset += limit
	}

	reportSuccess(a.health, types.VenueA)
	a.logger.Debug("fetch complete", "markets", len(out))
	return out, nil
}

func (a *VenueA) fetchPage(ctx context.Context, status types.MarketStatus, limit, offset int) ([]gammaMarket, error) {
	pageCtx, cancel := context.WithTimeout(ctx, fetchDeadline)
	defer cancel()

	if err := a.rl.Wait(pageCtx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}
	switch status {
	case types.StatusClosed:
		params["closed"] = "true"
	case types.StatusAny:
	default: // open
		params["active"] = "true"
		params["closed"] = "false"
	}

	var page []gammaMarket
	err := withRetry(pageCtx, func() error {
		page = page[:0]
		resp, err := a.http.R().
			SetContext(pageCtx).
			SetQueryParams(params).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return fmt.Errorf("get markets offset %d: %w", offset, err)
		}
		switch {
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return fmt.Errorf("status %d: %w", resp.StatusCode(), ErrAuth)
		case resp.StatusCode() != http.StatusOK:
			return fmt.Errorf("get markets offset %d: status %d", offset, resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// normalize converts one raw record to the internal schema. Records with no
// question or no parsable price are dropped (logged at debug, not surfaced).
func (a *VenueA) normalize(gm gammaMarket) (types.NormalizedMarket, bool) {
	if gm.Question == "" {
		return types.NormalizedMarket{}, false
	}

	var names, prices []string
	if gm.Outcomes != "" {
		_ = json.Unmarshal([]byte(gm.Outcomes), &names)
	}
	if gm.OutcomePrices != "" {
		_ = json.Unmarshal([]byte(gm.OutcomePrices), &prices)
	}

	outcomes := make([]types.Outcome, 0, len(names))
	anyPrice := false
	for i, name := range names {
		var p float64
		if i < len(prices) {
			if v, err := strconv.ParseFloat(prices[i], 64); err == nil {
				p = clampPrice(v)
				anyPrice = true
			}
		}
		outcomes = append(outcomes, types.Outcome{
			Name:  name,
			Price: p,
			Rank:  i,
			Image: gm.Image,
		})
	}
	if !anyPrice {
		a.logger.Debug("dropping market without prices", "id", gm.ID)
		return types.NormalizedMarket{}, false
	}

	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)
	if liquidity < 0 {
		liquidity = 0
	}
	volume := gm.Volume24hr
	if volume < 0 {
		volume = 0
	}

	var endDate *time.Time
	if gm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			utc := t.UTC()
			endDate = &utc
		}
	}

	return types.NormalizedMarket{
		ID:         fmt.Sprintf("%s:%s", types.VenueA, gm.ID),
		Venue:      types.VenueA,
		Question:   gm.Question,
		Outcomes:   outcomes,
		Volume24h:  volume,
		Liquidity:  liquidity,
		Spread:     deriveSpread(outcomes),
		EndDate:    endDate,
		Category:   inferCategory(gm.Category, gm.Question),
		Closed:     gm.Closed,
		Resolved:   gm.UmaResolutionStatus == "resolved",
		LastUpdate: time.Now().UTC(),
	}, true
}
