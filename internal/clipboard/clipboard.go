// Package clipboard copies finished transcripts to the system clipboard.
//
// On Linux the underlying library shells out to xclip, xsel or wl-copy,
// whichever is installed.
package clipboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"

	"github.com/MrWong99/dictate/internal/session"
)

// ErrUnsupported is returned when no clipboard utility is available.
var ErrUnsupported = errors.New("clipboard: no clipboard utility found (install xclip, xsel or wl-clipboard)")

// Available reports whether the system clipboard can be written.
func Available() bool { return !clipboard.Unsupported }

// Sink is a [session.Sink] that writes the result text to the clipboard.
// Empty results are skipped. Partial results are copied so that text
// merged before an abort is not lost.
type Sink struct {
	// Write replaces the system clipboard writer. Nil means the system
	// clipboard.
	Write func(text string) error
}

var _ session.Sink = Sink{}

// Deliver copies r.Text.
func (s Sink) Deliver(ctx context.Context, r session.Result) error {
	if r.Text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	write := s.Write
	if write == nil {
		if !Available() {
			return ErrUnsupported
		}
		write = clipboard.WriteAll
	}
	if err := write(r.Text); err != nil {
		return fmt.Errorf("clipboard: write: %w", err)
	}
	return nil
}
