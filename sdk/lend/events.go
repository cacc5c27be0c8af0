package lend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"nhooyr.io/websocket"

	"vaultlend/core/lending"
)

const subscriptionBuffer = 64

// EventSubscription is a live feed of committed engine events.
type EventSubscription struct {
	conn   *websocket.Conn
	events chan lending.Event
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// SubscribeEvents opens the websocket event stream, replaying retained
// events with sequence numbers above cursor before going live. Close
// the subscription to release the connection.
func (c *Client) SubscribeEvents(ctx context.Context, cursor uint64) (*EventSubscription, error) {
	if c == nil {
		return nil, fmt.Errorf("lend client not initialised")
	}
	target := fmt.Sprintf("%s/ws/events?cursor=%s", c.endpoint, strconv.FormatUint(cursor, 10))
	opts := &websocket.DialOptions{}
	if c.authToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.authToken}}
	}
	conn, _, err := websocket.Dial(ctx, target, opts)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	sub := &EventSubscription{
		conn:   conn,
		events: make(chan lending.Event, subscriptionBuffer),
		cancel: cancel,
	}
	go sub.readLoop(streamCtx)
	return sub, nil
}

// Events delivers decoded events in commit order. The channel closes
// when the stream ends; check Err for the cause.
func (s *EventSubscription) Events() <-chan lending.Event {
	return s.events
}

// Err reports why the stream ended. It returns nil while the stream is
// live and after a clean close.
func (s *EventSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the connection and stops the read loop.
func (s *EventSubscription) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}

func (s *EventSubscription) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		_, payload, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(err)
			}
			return
		}
		var event lending.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			s.setErr(fmt.Errorf("decode event: %w", err))
			return
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (s *EventSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
