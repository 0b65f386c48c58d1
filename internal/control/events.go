package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/session"
)

// EventType tags an [Event].
type EventType string

const (
	EventState  EventType = "state"
	EventDelta  EventType = "delta"
	EventResult EventType = "result"
)

// Event is one message on the /events stream. Exactly one of State, Delta
// and Result is set, matching Type.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`

	State  *StateChange    `json:"state,omitempty"`
	Delta  *DeltaEvent     `json:"delta,omitempty"`
	Result *ResultResponse `json:"result,omitempty"`
}

// StateChange is a session state transition.
type StateChange struct {
	From  session.State `json:"from"`
	To    session.State `json:"to"`
	Error string        `json:"error,omitempty"`
}

// DeltaEvent is one merged chunk. Text is what the chunk appended;
// MergedText is the whole transcript so far.
type DeltaEvent struct {
	Seq        uint64 `json:"seq"`
	Text       string `json:"text"`
	MergedText string `json:"merged_text"`
	Final      bool   `json:"final,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

const defaultFeedBuffer = 64

// Feed is a [session.Presenter] that fans session events out to /events
// subscribers. Publishing never blocks: a subscriber whose buffer is full is
// disconnected rather than silently skipping deltas.
type Feed struct {
	buffer int
	log    *slog.Logger

	mu      sync.Mutex
	subs    map[chan Event]struct{}
	session string
}

var _ session.Presenter = (*Feed)(nil)

// NewFeed returns a feed with no subscribers. buffer is the number of
// events a subscriber may fall behind; zero means 64.
func NewFeed(buffer int, log *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Feed{buffer: buffer, log: log, subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The channel is closed by the returned
// cancel func or when the subscriber falls too far behind.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, f.buffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// State publishes a transition.
func (f *Feed) State(ev session.StateEvent) {
	sc := &StateChange{From: ev.From, To: ev.To}
	if ev.Err != nil {
		sc.Error = ev.Err.Error()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.To == session.StateRecording {
		f.session = ev.SessionID
	}
	f.publishLocked(Event{Type: EventState, SessionID: ev.SessionID, At: ev.At, State: sc})
}

// Delta publishes a merged chunk.
func (f *Feed) Delta(d merge.Delta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishLocked(Event{
		Type:      EventDelta,
		SessionID: f.session,
		At:        time.Now(),
		Delta: &DeltaEvent{
			Seq:        d.Seq,
			Text:       d.Text,
			MergedText: d.MergedText,
			Final:      d.Final,
			Failed:     d.Failed,
		},
	})
}

// Result publishes a session's terminal result.
func (f *Feed) Result(r session.Result) {
	res := newResultResponse(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishLocked(Event{Type: EventResult, SessionID: r.SessionID, At: r.EndedAt, Result: &res})
}

func (f *Feed) publishLocked(ev Event) {
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.log.Warn("control: dropping slow event subscriber", "type", ev.Type, "session_id", ev.SessionID)
			delete(f.subs, ch)
			close(ch)
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errNoFeed.Error()})
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("control: accept event stream", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.feed.Subscribe()
	defer cancel()

	// Clients never send; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				s.log.Debug("control: event stream closed", "err", err)
				return
			}
		}
	}
}

// Watch streams session events from the daemon to fn until fn returns
// false, ctx is cancelled or the daemon closes the stream.
func (c *Client) Watch(ctx context.Context, fn func(Event) bool) error {
	conn, _, err := websocket.Dial(ctx, c.base+"/events", &websocket.DialOptions{HTTPClient: c.hc})
	if err != nil {
		if isNotRunning(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("control: dial events: %w", err)
	}
	defer conn.CloseNow()

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("control: read event: %w", err)
		}
		if !fn(ev) {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}

// errNoFeed is reported when the server was built without a feed.
var errNoFeed = errors.New("control: event stream not enabled")
