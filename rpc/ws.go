package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"vaultlend/core/lending"
)

const (
	wsWriteTimeout   = 10 * time.Second
	eventBacklogSize = 512
	subscriberBuffer = 64
)

// eventStream retains a bounded backlog of committed lending events and
// fans live ones out to websocket subscribers. It implements
// lending.EventSink, so delivery must never block the engine: a
// subscriber that cannot keep up is dropped and has to reconnect with a
// cursor.
type eventStream struct {
	mu      sync.Mutex
	cap     int
	backlog []lending.Event
	subs    map[*streamSub]struct{}
}

type streamSub struct {
	ch     chan lending.Event
	closed bool
}

func newEventStream(capacity int) *eventStream {
	if capacity <= 0 {
		capacity = eventBacklogSize
	}
	return &eventStream{cap: capacity, subs: make(map[*streamSub]struct{})}
}

func (s *eventStream) HandleLendingEvent(evt lending.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, evt)
	if len(s.backlog) > s.cap {
		s.backlog = append([]lending.Event(nil), s.backlog[len(s.backlog)-s.cap:]...)
	}
	for sub := range s.subs {
		select {
		case sub.ch <- evt:
		default:
			delete(s.subs, sub)
			sub.closed = true
			close(sub.ch)
		}
	}
}

// subscribe returns the retained events past the cursor plus a live
// channel. The channel closes when the subscriber falls behind.
func (s *eventStream) subscribe(cursor uint64) ([]lending.Event, <-chan lending.Event, func()) {
	sub := &streamSub{ch: make(chan lending.Event, subscriberBuffer)}
	s.mu.Lock()
	var replay []lending.Event
	for _, evt := range s.backlog {
		if evt.Sequence > cursor {
			replay = append(replay, evt)
		}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if !sub.closed {
			delete(s.subs, sub)
			sub.closed = true
			close(sub.ch)
		}
		s.mu.Unlock()
	}
	return replay, sub.ch, cancel
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.authToken != "" {
		if authErr := s.requireAuth(r); authErr != nil {
			http.Error(w, authErr.Message, http.StatusUnauthorized)
			return
		}
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	replay, updates, cancel := s.stream.subscribe(cursor)
	defer cancel()

	for _, evt := range replay {
		if err := writeStreamEvent(ctx, conn, evt); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt lending.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
