// Package notify shows desktop notifications for dictation sessions.
//
// [Presenter] implements [session.Presenter]. Notifications are handed to a
// single background goroutine so the session's workers never wait on the
// desktop notification daemon. Call [Presenter.Close] to flush and stop it.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/beeep"

	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/session"
)

const (
	titleInfo  = "Dictation"
	titleError = "Dictation Error"

	bodyStarted  = "Recording started... press again to stop"
	bodyStopping = "Stopping recording... processing audio"
	bodyNoSpeech = "Recording stopped, no speech detected"

	defaultPreview = 50
	queueSize      = 16
)

// Urgency selects how prominently a notification is shown.
type Urgency int

const (
	Normal Urgency = iota
	Critical
)

// Message is a single notification.
type Message struct {
	Title   string
	Body    string
	Urgency Urgency
}

// SendFunc delivers one notification.
type SendFunc func(Message) error

// Desktop sends m through the platform notification service. Critical
// messages use an alert, which also plays the system sound.
func Desktop(m Message) error {
	if m.Urgency == Critical {
		return beeep.Alert(m.Title, m.Body, "")
	}
	return beeep.Notify(m.Title, m.Body, "")
}

// Option configures a [Presenter].
type Option func(*Presenter)

// WithSender replaces [Desktop] as the delivery function.
func WithSender(send SendFunc) Option {
	return func(p *Presenter) { p.send = send }
}

// WithPreview sets how many characters of the transcript are shown in the
// result notification. Values below 4 are ignored.
func WithPreview(n int) Option {
	return func(p *Presenter) {
		p.SetPreview(n)
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Presenter) { p.log = l }
}

// Presenter turns session events into desktop notifications.
type Presenter struct {
	send    SendFunc
	preview atomic.Int64
	log     *slog.Logger

	queue     chan Message
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ session.Presenter = (*Presenter)(nil)

// New starts a Presenter.
func New(opts ...Option) *Presenter {
	p := &Presenter{
		send:  Desktop,
		log:   slog.Default(),
		queue: make(chan Message, queueSize),
		done:  make(chan struct{}),
	}
	p.preview.Store(defaultPreview)
	for _, o := range opts {
		o(p)
	}
	go p.run()
	return p
}

func (p *Presenter) run() {
	defer close(p.done)
	for m := range p.queue {
		if err := p.send(m); err != nil {
			p.log.Warn("notify: send failed", "title", m.Title, "err", err)
		}
	}
}

// State notifies on recording start and on stop.
func (p *Presenter) State(ev session.StateEvent) {
	switch ev.To {
	case session.StateRecording:
		p.enqueue(Message{Title: titleInfo, Body: bodyStarted})
	case session.StateFinalizing:
		p.enqueue(Message{Title: titleInfo, Body: bodyStopping})
	}
}

// Delta is a no-op; only the final result is shown.
func (p *Presenter) Delta(merge.Delta) {}

// Result shows a preview of the transcript, or the abort cause.
func (p *Presenter) Result(r session.Result) {
	p.enqueue(ResultMessage(r, int(p.preview.Load())))
}

// SetPreview changes the preview length for later results. Values below 4
// are ignored.
func (p *Presenter) SetPreview(n int) {
	if n >= 4 {
		p.preview.Store(int64(n))
	}
}

// ResultMessage builds the notification for r, truncating the transcript
// to at most preview characters.
func ResultMessage(r session.Result, preview int) Message {
	if r.Err != nil {
		body := r.Err.Error()
		if r.Text != "" {
			body += "\nPartial transcript: " + Truncate(r.Text, preview)
		}
		return Message{Title: titleError, Body: body, Urgency: Critical}
	}
	if r.Text == "" {
		return Message{Title: titleInfo, Body: bodyNoSpeech}
	}
	return Message{Title: titleInfo, Body: "Transcription: " + Truncate(r.Text, preview)}
}

// Truncate shortens s to at most n runes, replacing the tail with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n < 4 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Error shows a critical notification outside of a session, for example
// when the daemon fails to start recording.
func (p *Presenter) Error(msg string) {
	p.enqueue(Message{Title: titleError, Body: msg, Urgency: Critical})
}

func (p *Presenter) enqueue(m Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- m:
	default:
		p.log.Warn("notify: queue full, dropping notification", "title", m.Title)
	}
}

// Close delivers queued notifications and stops the background goroutine.
func (p *Presenter) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	<-p.done
}
