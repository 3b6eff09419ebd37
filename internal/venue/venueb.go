package venue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"marketfuse/internal/config"
	"marketfuse/pkg/types"
)

// vbMarket is the JSON shape Venue-B returns inside its page envelope.
// Prices and liquidity are cents-denominated; clampPrice handles the
// percentage-to-probability conversion.
type vbMarket struct {
	Ticker    string  `json:"ticker"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	CloseTime string  `json:"close_time"`
	Status    string  `json:"status"` // active | closed | settled
	Volume24h float64 `json:"volume_24h"`
	Liquidity float64 `json:"liquidity"` // cents
	YesAsk    float64 `json:"yes_ask"`   // cents
	NoAsk     float64 `json:"no_ask"`    // cents
}

type vbPage struct {
	Markets []vbMarket `json:"markets"`
	Cursor  string     `json:"cursor"`
}

// VenueB pulls markets from the Kalshi-shaped API using cursor paging.
// An API key, when configured, is forwarded as a bearer token.
type VenueB struct {
	http   *resty.Client
	rl     *WindowLimiter
	cfg    config.VenueConfig
	health HealthSink
	logger *slog.Logger
}

// NewVenueB creates the Venue-B adapter.
func NewVenueB(cfg config.VenueConfig, health HealthSink, logger *slog.Logger) *VenueB {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &VenueB{
		http:   client,
		rl:     NewWindowLimiter(cfg.RateLimitPerMin, time.Minute),
		cfg:    cfg,
		health: health,
		logger: logger.With("component", "venue-b"),
	}
}

// Venue returns the tag this adapter owns.
func (b *VenueB) Venue() types.Venue { return types.VenueB }

// FetchMarkets pulls markets page by page following the cursor. Paging
// stops on a short page, an empty cursor, or the MaxPages cutoff.
func (b *VenueB) FetchMarkets(ctx context.Context, opts types.FetchOptions) ([]types.NormalizedMarket, error) {
	reportAttempt(b.health, types.VenueB)

	limit := opts.Limit
	if limit <= 0 {
		limit = b.cfg.PageLimit
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var out []types.NormalizedMarket
	cursor := ""
	for page := 0; page < maxPages; page++ {
		pg, err := b.fetchPage(ctx, opts.Status, limit, cursor)
		if err != nil {
			reportFailure(b.health, types.VenueB, err)
			return nil, &FetchError{Venue: types.VenueB, Err: err}
		}

		for _, raw := range pg.Markets {
			if m, ok := b.normalize(raw); ok {
				out = append(out, m)
			}
		}

		if len(pg.Markets) < limit || pg.Cursor == "" {
			break
		}
		cursor = pg.Cursor
	}

	reportSuccess(b.health, types.VenueB)
	b.logger.Debug("fetch complete", "markets", len(out))
	return out, nil
}

func (b *VenueB) fetchPage(ctx context.Context, status types.MarketStatus, limit int, cursor string) (*vbPage, error) {
	pageCtx, cancel := context.WithTimeout(ctx, fetchDeadline)
	defer cancel()

	if err := b.rl.Wait(pageCtx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"limit": strconv.Itoa(limit),
	}
	if cursor != "" {
		params["cursor"] = cursor
	}
	switch status {
	case types.StatusClosed:
		params["status"] = "closed"
	case types.StatusAny:
	default: // open
		params["status"] = "open"
	}

	var page vbPage
	err := withRetry(pageCtx, func() error {
		page = vbPage{}
		resp, err := b.http.R().
			SetContext(pageCtx).
			SetQueryParams(params).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return fmt.Errorf("get markets: %w", err)
		}
		switch {
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return fmt.Errorf("status %d: %w", resp.StatusCode(), ErrAuth)
		case resp.StatusCode() != http.StatusOK:
			return fmt.Errorf("get markets: status %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// normalize converts one raw record to the internal schema. Venue-B markets
// are always binary: the yes/no ask prices become the two outcomes.
func (b *VenueB) normalize(vm vbMarket) (types.NormalizedMarket, bool) {
	if vm.Title == "" {
		return types.NormalizedMarket{}, false
	}
	if vm.YesAsk <= 0 && vm.NoAsk <= 0 {
		b.logger.Debug("dropping market without prices", "ticker", vm.Ticker)
		return types.NormalizedMarket{}, false
	}

	outcomes := []types.Outcome{
		{Name: "Yes", Price: clampPrice(vm.YesAsk), Rank: 0},
		{Name: "No", Price: clampPrice(vm.NoAsk), Rank: 1},
	}

	liquidity := vm.Liquidity / 100 // cents to USD
	if liquidity < 0 {
		liquidity = 0
	}
	volume := vm.Volume24h // contracts, ~$1 notional each
	if volume < 0 {
		volume = 0
	}

	var endDate *time.Time
	if vm.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, vm.CloseTime); err == nil {
			utc := t.UTC()
			endDate = &utc
		}
	}

	return types.NormalizedMarket{
		ID:         fmt.Sprintf("%s:%s", types.VenueB, vm.Ticker),
		Venue:      types.VenueB,
		Question:   vm.Title,
		Outcomes:   outcomes,
		Volume24h:  volume,
		Liquidity:  liquidity,
		Spread:     deriveSpread(outcomes),
		EndDate:    endDate,
		Category:   inferCategory(vm.Category, vm.Title),
		Closed:     vm.Status == "closed" || vm.Status == "settled",
		Resolved:   vm.Status == "settled",
		LastUpdate: time.Now().UTC(),
	}, true
}
