package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"price_alert_backend/metrics"
	"price_alert_backend/models"
)

const (
	DefaultTickInterval    = 1000 * time.Millisecond
	DefaultStreamReadLimit = 64 * 1024
	cacheWriteTimeout      = 2 * time.Second
	controlWriteTimeout    = 5 * time.Second
)

// ErrStreamGaveUp is returned by Run once the reconnect budget is spent
var ErrStreamGaveUp = errors.New("price stream: reconnect attempts exhausted")

// IngestionConfig configures a PriceIngestionStream
type IngestionConfig struct {
	URL string
	// TickInterval is the minimum spacing between two accepted ticks
	TickInterval time.Duration
	// ReadTimeout closes a silent connection so it can be re-established
	ReadTimeout time.Duration
	// MaxReconnects bounds consecutive failed sessions; 0 retries forever
	MaxReconnects int
}

// PriceIngestionStream keeps the price cache fed from the exchange trade stream.
// Ticks arriving within TickInterval of the last accepted one are dropped.
type PriceIngestionStream struct {
	cfg    IngestionConfig
	cache  PriceCache
	dialer *websocket.Dialer
	logger *zap.Logger

	now        func() time.Time
	newBackOff func() backoff.BackOff

	// unix milliseconds of the last tick written to the cache
	lastAccepted atomic.Int64
}

// NewPriceIngestionStream creates a stream writing into cache
func NewPriceIngestionStream(cfg IngestionConfig, cache PriceCache, logger *zap.Logger) *PriceIngestionStream {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &PriceIngestionStream{
		cfg:    cfg,
		cache:  cache,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.Named("ingestion"),
		now:    time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			return b
		},
	}
}

// Run subscribes to the stream and re-subscribes after transport errors until
// ctx is done (nil error) or the reconnect budget is exhausted (ErrStreamGaveUp).
func (s *PriceIngestionStream) Run(ctx context.Context) error {
	bo := s.newBackOff()
	failures := 0

	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Price stream stopped")
			return nil
		}
		if connected {
			bo.Reset()
			failures = 0
		}
		failures++

		if s.cfg.MaxReconnects > 0 && failures > s.cfg.MaxReconnects {
			return fmt.Errorf("%w after %d attempts: %v", ErrStreamGaveUp, failures, err)
		}

		delay := bo.NextBackOff()
		s.logger.Warn("Price stream disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("backoff", delay),
		)
		metrics.StreamReconnects.Inc()

		select {
		case <-ctx.Done():
			s.logger.Info("Price stream stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails. connected reports whether the
// handshake succeeded, which resets the backoff.
func (s *PriceIngestionStream) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	// Unblocks ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("Price stream connected", zap.String("url", s.cfg.URL))

	conn.SetReadLimit(DefaultStreamReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(ctx, msg)
	}
}

// handleMessage extracts the trade price and writes it if the window allows
func (s *PriceIngestionStream) handleMessage(ctx context.Context, msg []byte) {
	var ev models.TradeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		s.malformed(msg, err)
		return
	}
	if ev.Price == "" {
		s.malformed(msg, errors.New("missing price field"))
		return
	}
	if _, err := models.ParsePrice(ev.Price); err != nil {
		s.malformed(msg, err)
		return
	}

	if !s.accept(s.now()) {
		metrics.TicksTotal.WithLabelValues(metrics.ResultDropped).Inc()
		return
	}

	wctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Set(wctx, ev.Price); err != nil {
		s.logger.Error("Failed to write price to cache", zap.String("price", ev.Price), zap.Error(err))
		return
	}
	metrics.TicksTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	s.logger.Debug("Price updated", zap.String("price", ev.Price))
}

// accept claims the current window. Concurrent callers race on the CAS and
// at most one of them wins per window.
func (s *PriceIngestionStream) accept(now time.Time) bool {
	ts := now.UnixMilli()
	last := s.lastAccepted.Load()
	if ts-last < s.cfg.TickInterval.Milliseconds() {
		return false
	}
	return s.lastAccepted.CompareAndSwap(last, ts)
}

func (s *PriceIngestionStream) malformed(msg []byte, err error) {
	metrics.TicksTotal.WithLabelValues(metrics.ResultMalformed).Inc()
	if len(msg) > 256 {
		msg = msg[:256]
	}
	s.logger.Warn("Dropping malformed tick", zap.ByteString("payload", msg), zap.Error(err))
}
