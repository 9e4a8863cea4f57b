package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mmbot/pkg/decimalx"
)

const (
	feedPingInterval     = 50 * time.Second
	feedReadTimeout      = 90 * time.Second
	feedMaxReconnectWait = 30 * time.Second
	feedWriteTimeout     = 10 * time.Second
	feedEventBufferSize  = 256
)

// wireEvent is the generic envelope every exchange message is expected to
// carry, enough to route it without knowing the exchange's full schema.
// Price/size fields arrive as decimal strings, not JSON numbers, the way
// most perp venues encode them to avoid float round-tripping through their
// own wire format; dispatch parses them through pkg/decimalx.
type wireEvent struct {
	Channel     string  `json:"channel"`
	Ts          int64   `json:"ts"`
	BestBidPx   string  `json:"bestBidPx"`
	BestBidSz   string  `json:"bestBidSz"`
	BestAskPx   string  `json:"bestAskPx"`
	BestAskSz   string  `json:"bestAskSz"`
	Seq         *int64  `json:"seq"`
	Side        *string `json:"side"`
	Px          string  `json:"px"`
	Sz          string  `json:"sz"`
	TradeID     string  `json:"tradeId"`
	TradeType   string  `json:"tradeType"`
	PriceType   string  `json:"priceType"`
	MarkPx      string  `json:"markPx"`
	IndexPx     string  `json:"indexPx"`
	FundingRate string  `json:"fundingRate"`
}

// Feed manages one WebSocket connection carrying BBO/trade/price/funding
// events for a single (exchange, symbol), auto-reconnecting with exponential
// backoff. Grounded on internal/exchange/ws.go's WSFeed, collapsed from two
// channels (market/user) into one market-data channel since the trading
// adapter's order/fill events arrive over REST in this domain.
type Feed struct {
	url      string
	exchange string
	symbol   string

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan MarketEvent
	logger *slog.Logger

	lastEventMu sync.Mutex
	lastEventAt time.Time
}

// NewFeed constructs a market-data feed for (exchange, symbol) against wsURL.
func NewFeed(wsURL, exchange, symbol string, logger *slog.Logger) *Feed {
	return &Feed{
		url:      wsURL,
		exchange: exchange,
		symbol:   symbol,
		events:   make(chan MarketEvent, feedEventBufferSize),
		logger:   logger.With("component", "adapter_feed", "symbol", symbol),
	}
}

// Events returns the read-only event channel consumers read from.
func (f *Feed) Events() <-chan MarketEvent { return f.events }

// LastEventAt returns the time the last event (of any kind) was observed,
// the input to the stale-data watchdog.
func (f *Feed) LastEventAt() time.Time {
	f.lastEventMu.Lock()
	defer f.lastEventMu.Unlock()
	return f.lastEventAt
}

// Run connects and maintains the feed with auto-reconnect. Blocks until ctx
// is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.emit(MarketEvent{Kind: EventReconnecting, Reason: fmt.Sprintf("%v", err)})
		f.logger.Warn("market feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > feedMaxReconnectWait {
			backoff = feedMaxReconnectWait
		}
	}
}

// ForceReconnect closes the current connection, making connectAndRead
// return so Run's reconnect loop re-dials immediately. Used by Watchdog.
func (f *Feed) ForceReconnect() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.emit(MarketEvent{Kind: EventConnected})
	f.logger.Info("market feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.emit(MarketEvent{Kind: EventDisconnected})
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) subscribe() error {
	msg := struct {
		Op       string `json:"op"`
		Symbol   string `json:"symbol"`
		Channels []string `json:"channels"`
	}{Op: "subscribe", Symbol: f.symbol, Channels: []string{"bbo", "trade", "price", "funding"}}
	return f.writeJSON(msg)
}

func (f *Feed) dispatch(data []byte) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		f.logger.Debug("ignoring non-json market event", "data", string(data))
		return
	}

	evt := MarketEvent{Ts: we.Ts, Exchange: f.exchange, Symbol: f.symbol, Raw: string(data)}
	switch we.Channel {
	case "bbo":
		evt.Kind = EventBBO
		evt.BestBidPx = decimalx.ToFloat(decimalx.ParseOrZero(we.BestBidPx))
		evt.BestBidSz = decimalx.ToFloat(decimalx.ParseOrZero(we.BestBidSz))
		evt.BestAskPx = decimalx.ToFloat(decimalx.ParseOrZero(we.BestAskPx))
		evt.BestAskSz = decimalx.ToFloat(decimalx.ParseOrZero(we.BestAskSz))
		evt.Seq = we.Seq
	case "trade":
		evt.Kind = EventTrade
		evt.Side = we.Side
		evt.Px = decimalx.ToFloat(decimalx.ParseOrZero(we.Px))
		evt.Sz = decimalx.ToFloat(decimalx.ParseOrZero(we.Sz))
		evt.TradeID, evt.TradeType, evt.Seq = we.TradeID, we.TradeType, we.Seq
	case "price":
		evt.Kind = EventPrice
		evt.PriceType = PriceType(we.PriceType)
		if mark, ok := decimalx.ParseOK(we.MarkPx); ok {
			f := decimalx.ToFloat(mark)
			evt.MarkPx = &f
		}
		if index, ok := decimalx.ParseOK(we.IndexPx); ok {
			f := decimalx.ToFloat(index)
			evt.IndexPx = &f
		}
	case "funding":
		evt.Kind = EventFunding
		evt.FundingRate = decimalx.ToFloat(decimalx.ParseOrZero(we.FundingRate))
	default:
		f.logger.Debug("unknown market event channel", "channel", we.Channel)
		return
	}
	f.emit(evt)
}

func (f *Feed) emit(evt MarketEvent) {
	if evt.Kind == EventBBO || evt.Kind == EventTrade || evt.Kind == EventPrice || evt.Kind == EventFunding {
		f.lastEventMu.Lock()
		f.lastEventAt = time.Now()
		f.lastEventMu.Unlock()
	}
	select {
	case f.events <- evt:
	default:
		f.logger.Warn("market event channel full, dropping event", "kind", evt.Kind)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("market feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("market feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
