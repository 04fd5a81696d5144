// ABOUTME: Websocket live subscription with reconnect, backoff, and cursor resume
// ABOUTME: Decodes change-batch envelopes from the server's watch endpoint

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// backoff computes reconnect delays with exponential growth and jitter.
// The attempt counter resets once a connection survives for a minute.
type backoff struct {
	base        time.Duration
	max         time.Duration
	attempt     int
	connectedAt time.Time
}

func (b *backoff) markConnected() {
	b.connectedAt = time.Now()
}

func (b *backoff) nextDelay() time.Duration {
	if !b.connectedAt.IsZero() && time.Since(b.connectedAt) > 60*time.Second {
		b.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(b.base) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.base)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.max),
	))
	b.attempt++
	return delay
}

// wsSubscription is a live subscription over a websocket. It reconnects
// on stream errors, resuming from the last delivered cursor, until the
// context is done, Close is called, or the attempt budget is spent.
type wsSubscription struct {
	client *Client
	query  Query

	ch     chan ChangeBatch
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// Subscribe implements DocumentStore. The subscription starts delivering
// batches immediately; the first batch replays current matches.
func (c *Client) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		client: c,
		query:  q,
		ch:     make(chan ChangeBatch),
		cancel: cancel,
	}
	go sub.run(subCtx)
	return sub, nil
}

func (s *wsSubscription) run(ctx context.Context) {
	defer close(s.ch)

	bo := &backoff{base: s.client.reconnectBase, max: s.client.reconnectMax}
	cursor := s.query.Cursor

	for attempt := 0; ; attempt++ {
		if s.client.maxReconnects > 0 && attempt >= s.client.maxReconnects {
			s.setErr(fmt.Errorf("subscription gave up after %d attempts", attempt))
			return
		}

		err := s.stream(ctx, &cursor, bo)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			delay := bo.nextDelay()
			s.client.logger.Warn("live stream disconnected, reconnecting",
				"collection", s.query.Collection, "delay", delay, "err", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// stream holds one websocket connection open and forwards batches.
// cursor is updated as batches arrive so a reconnect resumes in place.
func (s *wsSubscription) stream(ctx context.Context, cursor *string, bo *backoff) error {
	wsURL := strings.Replace(s.client.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/v1/watch?token=" + s.client.token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Reads can be large when the initial batch replays the collection.
	conn.SetReadLimit(MaxResponseSize)

	q := s.query
	q.Cursor = *cursor
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("send query: %w", err)
	}

	bo.markConnected()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}

		var batch ChangeBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			s.client.logger.Warn("dropping undecodable batch", "err", err)
			continue
		}
		if batch.Cursor != "" {
			*cursor = batch.Cursor
		}

		select {
		case s.ch <- batch:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *wsSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsSubscription) Changes() <-chan ChangeBatch { return s.ch }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		s.cancel()
	}
}
