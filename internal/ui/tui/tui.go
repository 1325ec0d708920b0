package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/EvanSunde/Sinodragon/internal/control/client"
	"github.com/EvanSunde/Sinodragon/internal/state"
)

const (
	defaultRefresh = 500 * time.Millisecond
	titleWidth     = 48
	historyRows    = 10
)

// Inspector is the control call the dashboard polls.
type Inspector interface {
	Inspect(ctx context.Context) (client.InspectorState, error)
}

// Renderer periodically polls the daemon and renders a textual dashboard.
// A non-interactive renderer prints one plain snapshot and returns.
type Renderer struct {
	Client      Inspector
	Writer      io.Writer
	Refresh     time.Duration
	Interactive bool
}

// New returns a renderer configured with sensible defaults. It is
// interactive when w is a terminal.
func New(cli Inspector, w io.Writer) *Renderer {
	return &Renderer{Client: cli, Writer: w, Refresh: defaultRefresh, Interactive: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Client == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}

	if !r.Interactive {
		snapshot, err := r.Client.Inspect(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(r.Writer, Render(snapshot))
		return err
	}

	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	snapshot, err := r.Client.Inspect(ctx)

	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("sinodragon inspector, Ctrl+C to exit\n")
	buf.WriteString(time.Now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	if err != nil {
		buf.WriteString(fmt.Sprintf("error: %v\n", err))
		fmt.Fprint(r.Writer, buf.String())
		return
	}
	buf.WriteString(Render(snapshot))
	fmt.Fprint(r.Writer, buf.String())
}

// Render formats one inspector snapshot without terminal control sequences.
func Render(snapshot client.InspectorState) string {
	var b strings.Builder
	b.WriteString(renderStatus(snapshot.Status))
	b.WriteString(renderKeys(snapshot.Status.Keys))
	b.WriteString(renderHistory(snapshot.History))
	return b.String()
}

func renderStatus(status client.EngineStatus) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", status.State)
	focus := "(none)"
	if !status.Focus.IsBlank() {
		focus = status.Focus.AppClass
		if status.Focus.Title != "" {
			focus += " - " + truncate(status.Focus.Title, titleWidth)
		}
	}
	fmt.Fprintf(tw, "Focus:\t%s\n", focus)
	held := status.Held
	if held == "" {
		held = "-"
	}
	fmt.Fprintf(tw, "Held:\t%s\n", held)
	bridge := "disconnected"
	if status.BridgeAvailable {
		bridge = "connected"
	}
	fmt.Fprintf(tw, "Bridge:\t%s\n", bridge)
	fmt.Fprintf(tw, "Frame:\t#%d\n", status.FrameSeq)
	fmt.Fprintf(tw, "Queue:\t%d\n", status.QueueDepth)
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderKeys(keys state.Mapping) string {
	var b strings.Builder
	b.WriteString("Keys:\n")
	if len(keys) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Key\tColor")
	for _, key := range keys.Keys() {
		fmt.Fprintf(tw, "%s\t%s\n", key, keys[key].Hex())
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderHistory(history []client.Transition) string {
	var b strings.Builder
	b.WriteString("Recent transitions:\n")
	if len(history) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	if len(history) > historyRows {
		history = history[len(history)-historyRows:]
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tEvent\tFrom\tTo\tFrame")
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		frame := "-"
		if entry.Emitted {
			frame = fmt.Sprintf("#%d", entry.Seq)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", entry.Timestamp.Local().Format("15:04:05.000"), entry.Event, entry.From, entry.To, frame)
	}
	tw.Flush()
	return b.String()
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
