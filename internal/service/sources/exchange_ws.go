package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"QuorumFeed/internal/domain/models"
	applogger "QuorumFeed/pkg/logger"

	"github.com/gorilla/websocket"
)

// ExchangeWS is a streaming source adapter. It holds a WebSocket subscription
// to an exchange trade stream and serves FetchQuote from the last tick seen
// per symbol, so scheduled sweeps never block on the socket.
type ExchangeWS struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	staleAfter     time.Duration
	l              *applogger.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	ticks map[string]*models.Quote

	cancel context.CancelFunc
	done   chan struct{}
}

func NewExchangeWS(url string, symbols []string, reconnectDelay, pingInterval, staleAfter time.Duration, l *applogger.Logger) *ExchangeWS {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &ExchangeWS{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		staleAfter:     staleAfter,
		l:              l,
		ticks:          make(map[string]*models.Quote),
	}
}

func (e *ExchangeWS) Name() string { return "exchange_ws" }

// Start connects and runs the read loop until Stop or context cancellation.
// Read failures trigger reconnect with a fixed delay.
func (e *ExchangeWS) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	if err := e.connect(ctx); err != nil {
		cancel()
		close(e.done)
		return err
	}

	go e.pingLoop(ctx)
	go e.readLoop(ctx)
	return nil
}

func (e *ExchangeWS) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return fmt.Errorf("exchange ws connect: %w", err)
	}
	for _, s := range e.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return fmt.Errorf("exchange ws subscribe %s: %w", s, err)
		}
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	e.l.Info("exchange ws connected",
		applogger.String("url", e.url),
		applogger.Int("symbols", len(e.symbols)),
	)
	return nil
}

func (e *ExchangeWS) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			conn := e.conn
			e.mu.RUnlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

type wsTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type wsFrame struct {
	Type string    `json:"type"`
	Data []wsTrade `json:"data"`
}

func (e *ExchangeWS) readLoop(ctx context.Context) {
	defer close(e.done)
	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.RLock()
		conn := e.conn
		e.mu.RUnlock()
		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.l.Warn("exchange ws read error, reconnecting", applogger.Error(err))
			_ = conn.Close()
			time.Sleep(e.reconnectDelay)
			if err := e.connect(ctx); err != nil {
				e.l.Error("exchange ws reconnect failed", applogger.Error(err))
				time.Sleep(e.reconnectDelay)
			}
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(b, &frame); err != nil || frame.Type != "trade" {
			continue
		}
		e.mu.Lock()
		for _, d := range frame.Data {
			e.ticks[strings.ToUpper(d.S)] = &models.Quote{
				Source:    e.Name(),
				Price:     d.P,
				Volume24h: d.V,
				Timestamp: time.UnixMilli(d.T),
			}
		}
		e.mu.Unlock()
	}
}

// FetchQuote serves the cached tick for a symbol. A missing or stale tick is
// an error so the aggregator counts this source as unavailable.
func (e *ExchangeWS) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	e.mu.RLock()
	q, ok := e.ticks[strings.ToUpper(symbol)]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange ws: no tick for %s", symbol)
	}
	if time.Since(q.Timestamp) > e.staleAfter {
		return nil, fmt.Errorf("exchange ws: stale tick for %s", symbol)
	}
	cp := *q
	return &cp, nil
}

// Stop tears down the socket and waits for the read loop.
func (e *ExchangeWS) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if e.done != nil {
		<-e.done
	}
	return err
}
