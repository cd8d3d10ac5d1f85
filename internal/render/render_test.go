package render

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/dashboard"
	"github.com/MrSnakeDoc/chiron/internal/engine"
	"github.com/MrSnakeDoc/chiron/internal/printer"
)

var now = time.Date(2025, 5, 1, 12, 5, 0, 0, time.UTC)

func newRenderer(buf *bytes.Buffer) *Renderer {
	printer.SetEnabled(false)
	return New(buf).WithNow(func() time.Time { return now })
}

func TestEntry_Tables(t *testing.T) {
	var buf bytes.Buffer
	snap := dashboard.NewSnapshot(now.Add(-5*time.Minute),
		[]dashboard.HeroGate{
			{Name: "Readiness", Score: 82, Status: dashboard.StatusPass},
			{Name: "Security", Score: 41, Status: dashboard.StatusFail},
		},
		[]dashboard.TimelineEntry{{Time: "12:00", Label: "Deploy", Impact: "+3", Tone: dashboard.TonePositive}},
	)

	err := newRenderer(&buf).Entry(cache.Entry{
		Snapshot: snap, Present: true, Source: cache.SourceStream,
		UpdatedAt: now.Add(-10 * time.Second), Stale: true,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "5 minutes ago")
	assert.Contains(t, out, "via stream 10 seconds ago")
	assert.Contains(t, out, "[stale]")
	assert.Contains(t, out, "Readiness")
	assert.Contains(t, out, "82")
	assert.Contains(t, out, "fail")
	assert.Contains(t, out, "Deploy")
}

func TestEntry_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newRenderer(&buf).Entry(cache.Entry{}))
	assert.Contains(t, buf.String(), "No dashboard data yet.")

	buf.Reset()
	snap := dashboard.NewSnapshot(now, nil, nil)
	require.NoError(t, newRenderer(&buf).Entry(cache.Entry{Snapshot: snap, Present: true}))
	assert.Contains(t, buf.String(), "No gates reported.")
}

func TestStatusLine(t *testing.T) {
	var buf bytes.Buffer
	line := newRenderer(&buf).StatusLine(engine.Status{
		Connection:  dashboard.Reconnecting,
		Online:      true,
		LastFetchAt: now.Add(-time.Minute),
		Stale:       true,
		LastError:   errors.New("boom"),
	})

	assert.Contains(t, line, "reconnecting")
	assert.Contains(t, line, "fetched 1 minute ago")
	assert.Contains(t, line, "stale")
	assert.Contains(t, line, "error: boom")
	assert.NotContains(t, line, "fetching")
}

func TestStatusLine_StreamError(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	line := r.StatusLine(engine.Status{Connection: dashboard.Streaming, Online: true, StreamError: errors.New("parse snapshot: bad tone")})
	assert.Contains(t, line, "stream: parse snapshot: bad tone")
	assert.NotContains(t, line, "error:")

	line = r.StatusLine(engine.Status{Connection: dashboard.Streaming, Online: true})
	assert.NotContains(t, line, "stream:")
}
