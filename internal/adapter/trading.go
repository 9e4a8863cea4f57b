package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"mmbot/internal/domain"
	"mmbot/internal/telemetry"
)

func domainDecimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// TradingOptions configures the REST trading adapter.
type TradingOptions struct {
	BaseURL  string
	APIKey   string
	Exchange string
	Symbol   string
	DryRun   bool
}

// Trading is the REST trading-adapter client: post-only order placement,
// cancel-all, and position sync. Grounded on internal/exchange/client.go's
// resty-wrapped REST client with rate limiting, retry, and a dry-run
// short-circuit; generalized from Polymarket's signed-order/batch-of-15
// shape to a single post-only two-sided quote per tick.
type Trading struct {
	http   *resty.Client
	rl     *RateLimiter
	opts   TradingOptions
	logger *slog.Logger
}

// waitBucket admits a call against bucket at the given cost and records how
// long it blocked, labeled by bucketName, so sustained throttling on one
// endpoint category is visible in mmbot_rate_limit_wait_ms rather than only
// showing up as slow ticks.
func (t *Trading) waitBucket(ctx context.Context, bucket *TokenBucket, bucketName string, cost float64) error {
	start := time.Now()
	err := bucket.WaitN(ctx, cost)
	telemetry.ObserveRateLimitWait(t.opts.Exchange, t.opts.Symbol, bucketName, float64(time.Since(start).Microseconds())/1000.0)
	return err
}

// NewTrading constructs a Trading adapter against opts.BaseURL.
func NewTrading(opts TradingOptions, logger *slog.Logger) *Trading {
	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Api-Key", opts.APIKey)

	return &Trading{
		http:   httpClient,
		rl:     NewRateLimiter(),
		opts:   opts,
		logger: logger.With("component", "adapter_trading"),
	}
}

// PlaceOrder submits a post-only order. On POST_ONLY_REJECTED the returned
// OrderResult has Rejected=true with that reason rather than an error — the
// caller is expected to surface it as a ReasonCode, not treat it as a fault.
func (t *Trading) PlaceOrder(ctx context.Context, side domain.Side, px, sz float64, clientOrderID string) (OrderResult, error) {
	if t.opts.DryRun {
		t.logger.Info("DRY-RUN: would place order", "side", side, "px", px, "sz", sz, "clientOrderId", clientOrderID)
		return OrderResult{OrderID: "dry-run-" + clientOrderID}, nil
	}
	if err := t.waitBucket(ctx, t.rl.Order, "order", OrderCost(px, sz)); err != nil {
		return OrderResult{}, err
	}

	payload := struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Px            float64 `json:"px"`
		Sz            float64 `json:"sz"`
		ClientOrderID string  `json:"clientOrderId"`
		PostOnly      bool    `json:"postOnly"`
	}{Symbol: t.opts.Symbol, Side: string(side), Px: px, Sz: sz, ClientOrderID: clientOrderID, PostOnly: true}

	var result struct {
		OrderID      string `json:"orderId"`
		Rejected     bool   `json:"rejected"`
		RejectReason string `json:"rejectReason"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Rejected {
		reason := result.RejectReason
		if reason == "" {
			reason = string(domain.ReasonPostOnlyRejected)
		}
		return OrderResult{Rejected: true, RejectReason: reason}, nil
	}
	return OrderResult{OrderID: result.OrderID}, nil
}

// CancelAll cancels every open order for the adapter's symbol.
func (t *Trading) CancelAll(ctx context.Context) error {
	if t.opts.DryRun {
		t.logger.Info("DRY-RUN: would cancel all orders", "symbol", t.opts.Symbol)
		return nil
	}
	if err := t.waitBucket(ctx, t.rl.Cancel, "cancel", cancelAllCost); err != nil {
		return err
	}

	body, err := json.Marshal(struct {
		Symbol string `json:"symbol"`
	}{Symbol: t.opts.Symbol})
	if err != nil {
		return fmt.Errorf("marshal cancel-all request: %w", err)
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(json.RawMessage(body)).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	t.logger.Info("all orders cancelled", "symbol", t.opts.Symbol)
	return nil
}

// PollFills fetches fills recorded since sinceMs (exclusive), oldest first.
// The executor's fill consumer polls this on a short interval since the
// trading adapter in this domain exposes fills over REST rather than a
// push channel.
func (t *Trading) PollFills(ctx context.Context, sinceMs int64) ([]domain.Fill, error) {
	if t.opts.DryRun {
		return nil, nil
	}
	if err := t.waitBucket(ctx, t.rl.Book, "book", 1); err != nil {
		return nil, err
	}

	var result []struct {
		ID            string  `json:"id"`
		Ts            int64   `json:"ts"`
		ClientOrderID string  `json:"clientOrderId"`
		Side          string  `json:"side"`
		FillPx        float64 `json:"fillPx"`
		FillSz        float64 `json:"fillSz"`
		Liquidity     string  `json:"liquidity"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", t.opts.Symbol).
		SetQueryParam("since", fmt.Sprintf("%d", sinceMs)).
		SetResult(&result).
		Get("/fills")
	if err != nil {
		return nil, fmt.Errorf("poll fills: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("poll fills: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]domain.Fill, 0, len(result))
	for _, r := range result {
		out = append(out, domain.Fill{
			ID: r.ID, Ts: r.Ts, Exchange: t.opts.Exchange, Symbol: t.opts.Symbol,
			ClientOrderID: r.ClientOrderID, Side: domain.Side(r.Side),
			FillPx: domainDecimalFromFloat(r.FillPx), FillSz: domainDecimalFromFloat(r.FillSz),
			Liquidity: r.Liquidity, State: "new",
		})
	}
	return out, nil
}

// SyncPosition fetches the current position for the adapter's symbol,
// returning nil when flat.
func (t *Trading) SyncPosition(ctx context.Context) (*PositionInfo, error) {
	if t.opts.DryRun {
		return nil, nil
	}
	if err := t.waitBucket(ctx, t.rl.Book, "book", 1); err != nil {
		return nil, err
	}

	var result struct {
		Size          float64  `json:"size"`
		EntryPrice    *float64 `json:"entryPrice"`
		UnrealizedPnl *float64 `json:"unrealizedPnl"`
		UpdatedAt     int64    `json:"updatedAt"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", t.opts.Symbol).
		SetResult(&result).
		Get("/position")
	if err != nil {
		return nil, fmt.Errorf("sync position: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("sync position: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Size == 0 {
		return nil, nil
	}
	return &PositionInfo{
		Symbol:        t.opts.Symbol,
		Size:          result.Size,
		EntryPrice:    result.EntryPrice,
		UnrealizedPnl: result.UnrealizedPnl,
		UpdatedAtMs:   result.UpdatedAt,
	}, nil
}
