package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dictate/internal/control"
	"github.com/MrWong99/dictate/internal/session"
)

func newToggleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Start recording, or stop if already recording",
		Long: `Start a dictation session when the daemon is idle and stop it when it is
recording. Bind this command to a hotkey.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := g.client().Toggle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Action, resp.Info.SessionID)
			return nil
		},
	}
}

func newStartCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := g.client().Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recording %s\n", info.SessionID)
			return nil
		},
	}
}

func newStopCmd(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording",
		Long: `Stop the current recording. Transcription of the last chunk continues in
the daemon; with --wait the command blocks until the final text is ready and
prints it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := g.client()
			if !wait {
				st, err := c.Stop(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.State, st.SessionID)
				return nil
			}
			res, err := c.StopAndWait(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the final text and print it")
	return cmd
}

func newAbortCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the current session, keeping text merged so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := g.client().Abort(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", st.State)
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON, last bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := g.client()
			out := cmd.OutOrStdout()
			if last {
				res, err := c.Result(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, res)
				}
				return printResult(out, cmd.ErrOrStderr(), res)
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, st)
			}
			printStatus(out, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&last, "last", false, "print the result of the current or most recent session")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var follow, merged bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print text as it is transcribed",
		Long: `Stream the daemon's session events and print each merged fragment as soon
as it is available. The command exits after the next session's result unless
--follow is set. With --merged every line is the whole transcript so far,
which suits status bars.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := &watchPrinter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), merged: merged}
			return g.client().Watch(cmd.Context(), func(ev control.Event) bool {
				done := w.print(ev)
				return follow || !done
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching after a session ends")
	cmd.Flags().BoolVar(&merged, "merged", false, "print the full merged text on every update")
	return cmd
}

// watchPrinter renders session events for the watch command.
type watchPrinter struct {
	out, errOut io.Writer
	merged      bool

	// open is set while a line of fragments is unterminated.
	open bool
}

// print renders ev and reports whether it ended a session.
func (w *watchPrinter) print(ev control.Event) bool {
	switch ev.Type {
	case control.EventState:
		w.endLine()
		if ev.State.Error != "" {
			fmt.Fprintf(w.errOut, "[%s] %s (%s)\n", ev.State.To, ev.SessionID, ev.State.Error)
		} else {
			fmt.Fprintf(w.errOut, "[%s] %s\n", ev.State.To, ev.SessionID)
		}
	case control.EventDelta:
		d := ev.Delta
		if d.Failed {
			w.endLine()
			fmt.Fprintf(w.errOut, "[chunk %d failed]\n", d.Seq)
			return false
		}
		if w.merged {
			if d.Text != "" {
				fmt.Fprintln(w.out, d.MergedText)
			}
			return false
		}
		if d.Text == "" {
			return false
		}
		if w.open {
			fmt.Fprint(w.out, " ")
		}
		fmt.Fprint(w.out, d.Text)
		w.open = true
	case control.EventResult:
		w.endLine()
		if ev.Result.Partial {
			fmt.Fprintf(w.errOut, "partial transcript: %s\n", ev.Result.Error)
		}
		return true
	}
	return false
}

func (w *watchPrinter) endLine() {
	if w.open {
		fmt.Fprintln(w.out)
		w.open = false
	}
}

func printStatus(w io.Writer, st session.Status) {
	fmt.Fprintf(w, "state: %s\n", st.State)
	if st.SessionID == "" {
		return
	}
	fmt.Fprintf(w, "session: %s\n", st.SessionID)
	fmt.Fprintf(w, "started: %s ago\n", time.Since(st.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "chunks: %d submitted, %d merged, %d failed\n", st.ChunksSubmitted, st.ChunksApplied, st.ChunksFailed)
	if st.Text != "" {
		fmt.Fprintf(w, "text: %s\n", st.Text)
	}
}

// printResult writes the transcript to out and any abort cause to errOut.
// A partial result is reported as an error so scripts can detect it.
func printResult(out, errOut io.Writer, res control.ResultResponse) error {
	if res.Text != "" {
		fmt.Fprintln(out, res.Text)
	}
	if len(res.FailedChunks) > 0 {
		fmt.Fprintf(errOut, "warning: %d chunk(s) failed to transcribe: %v\n", len(res.FailedChunks), res.FailedChunks)
	}
	if res.Partial {
		if res.Error != "" {
			return fmt.Errorf("partial transcript: %s", res.Error)
		}
		return errors.New("partial transcript")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
