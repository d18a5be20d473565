package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

const (
	pingInterval     = 20 * time.Second
	reconnectBackoff = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

// WebSocketFeed streams ticker updates from a Bybit v5 public linear
// stream and normalizes them into PriceUpdates.
type WebSocketFeed struct {
	url       string
	symbols   []string
	log       *logger.Logger
	updates   chan types.PriceUpdate
	reconnect time.Duration
}

// NewWebSocketFeed creates a feed for the given stream URL and symbols.
func NewWebSocketFeed(url string, symbols []string, log *logger.Logger) *WebSocketFeed {
	return &WebSocketFeed{
		url:       url,
		symbols:   symbols,
		log:       log,
		updates:   make(chan types.PriceUpdate, 1024),
		reconnect: reconnectBackoff,
	}
}

// SetReconnectDelay overrides the pause between reconnect attempts.
func (f *WebSocketFeed) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		f.reconnect = d
	}
}

// Updates implements Feed.
func (f *WebSocketFeed) Updates() <-chan types.PriceUpdate {
	return f.updates
}

// Run connects, subscribes, and pumps messages until ctx is cancelled,
// reconnecting on transport errors.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	defer close(f.updates)

	for {
		if err := f.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Warning("feed: connection lost (%v), reconnecting in %s", err, f.reconnect)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnect):
		}
	}
}

func (f *WebSocketFeed) runOnce(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to feed: %w", err)
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return err
	}

	// Keepalive pings on a side goroutine.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		update, ok := parseTicker(message)
		if !ok {
			continue
		}

		select {
		case f.updates <- update:
		default:
			// Consumer is behind; dropping a tick is safer than blocking
			// the transport and stalling every instrument.
			f.log.Warning("feed: update buffer full, dropping tick for %s", update.Symbol)
		}
	}
}

func (f *WebSocketFeed) subscribe(conn *websocket.Conn) error {
	args := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		args = append(args, "tickers."+s)
	}

	subscribeMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}

	data, err := json.Marshal(subscribeMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe message: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}

	f.log.Info("feed: subscribed to %d ticker streams", len(args))
	return nil
}

func (f *WebSocketFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := []byte(`{"op":"ping"}`)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// tickerMessage is the subset of Bybit's public ticker payload we consume.
type tickerMessage struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"data"`
}

func parseTicker(raw []byte) (types.PriceUpdate, bool) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.PriceUpdate{}, false
	}
	if msg.Data.Symbol == "" || msg.Data.LastPrice == "" {
		return types.PriceUpdate{}, false
	}

	return types.PriceUpdate{
		Symbol:    msg.Data.Symbol,
		Timestamp: time.UnixMilli(msg.TS),
		Last:      atof(msg.Data.LastPrice),
		Bid:       atof(msg.Data.Bid1Price),
		Ask:       atof(msg.Data.Ask1Price),
	}, true
}
