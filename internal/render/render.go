package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/engine"
	"github.com/MrSnakeDoc/chiron/internal/printer"
)

// Renderer prints snapshots and status lines for a terminal.
type Renderer struct {
	w   io.Writer
	p   *printer.ColorPrinter
	now func() time.Time
}

func New(w io.Writer) *Renderer {
	return &Renderer{w: w, p: printer.NewColorPrinter(), now: time.Now}
}

// WithNow fixes the reference time for relative ages.
func (r *Renderer) WithNow(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Entry prints the header line, the gate table and the timeline table.
func (r *Renderer) Entry(e cache.Entry) error {
	if !e.Present {
		_, err := fmt.Fprintln(r.w, r.p.Warning("No dashboard data yet."))
		return err
	}

	snap := e.Snapshot
	header := fmt.Sprintf("Dashboard generated %s (%s)",
		r.ago(snap.GeneratedAt()), snap.GeneratedAt().Local().Format(time.RFC3339))
	if e.Source != "" {
		header += fmt.Sprintf(", via %s %s", e.Source, r.ago(e.UpdatedAt))
	}
	if e.Stale {
		header += " " + r.p.Warning("[stale]")
	}
	if _, err := fmt.Fprintln(r.w, r.p.Info("%s", header)); err != nil {
		return err
	}

	if err := r.gates(snap.HeroGates()); err != nil {
		return err
	}
	return r.timeline(snap.Timeline())
}

func (r *Renderer) gates(gates []dashboard.HeroGate) error {
	if len(gates) == 0 {
		_, err := fmt.Fprintln(r.w, "No gates reported.")
		return err
	}

	table := tablewriter.NewTable(r.w)
	table.Header([]string{"Gate", "Score", "Status"})
	for _, g := range gates {
		row := []string{g.Name, strconv.Itoa(g.Score), r.p.Level(g.Status.Tier(), string(g.Status))}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("an error occurred while appending a gate row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("an error occurred while rendering the gate table: %w", err)
	}
	return nil
}

func (r *Renderer) timeline(entries []dashboard.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}

	table := tablewriter.NewTable(r.w)
	table.Header([]string{"Time", "Event", "Impact"})
	for _, t := range entries {
		row := []string{t.Time, t.Label, r.p.Level(t.Tone.Tier(), t.Impact)}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("an error occurred while appending a timeline row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("an error occurred while rendering the timeline table: %w", err)
	}
	return nil
}

// StatusLine summarises an engine status on one line.
func (r *Renderer) StatusLine(st engine.Status) string {
	parts := []string{r.p.Level(st.Connection.Tier(), "● "+st.Connection.String())}

	if st.Fetching {
		parts = append(parts, "fetching")
	}
	if !st.LastFetchAt.IsZero() {
		parts = append(parts, "fetched "+r.ago(st.LastFetchAt))
	}
	if !st.LastEventAt.IsZero() {
		parts = append(parts, "last event "+r.ago(st.LastEventAt))
	}
	if st.Stale {
		parts = append(parts, r.p.Warning("stale"))
	}
	if st.LastError != nil {
		parts = append(parts, r.p.Error("error: %v", st.LastError))
	}
	if st.StreamError != nil {
		parts = append(parts, r.p.Warning("stream: %v", st.StreamError))
	}
	return strings.Join(parts, " · ")
}

// Status prints StatusLine(st) on its own line.
func (r *Renderer) Status(st engine.Status) error {
	_, err := fmt.Fprintln(r.w, r.StatusLine(st))
	return err
}

// Age renders a persisted record's age for `cache show`.
func (r *Renderer) Age(t time.Time) string { return r.ago(t) }

func (r *Renderer) ago(t time.Time) string {
	return humanize.RelTime(t, r.now(), "ago", "from now")
}
