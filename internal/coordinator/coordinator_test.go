package coordinator

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/chiron/internal/clock"
	"github.com/MrSnakeDoc/chiron/internal/logger"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

type recorder struct{ reasons []Reason }

func (r *recorder) trigger(reason Reason) { r.reasons = append(r.reasons, reason) }

func setup() (*Coordinator, *recorder, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	c := New(Options{Trigger: rec.trigger, Clock: clk, MinInterval: 45 * time.Second})
	return c, rec, clk
}

func TestFocus_RateLimited(t *testing.T) {
	c, rec, clk := setup()

	c.Focus()
	clk.Advance(10 * time.Second)
	c.Focus()
	assert.Equal(t, []Reason{ReasonFocus}, rec.reasons, "two focus events within 45s give one trigger")

	clk.Advance(40 * time.Second)
	c.Visible()
	assert.Equal(t, []Reason{ReasonFocus, ReasonVisible}, rec.reasons)
}

func TestFocusAndVisibleShareWindow(t *testing.T) {
	c, rec, clk := setup()

	c.Visible()
	clk.Advance(time.Second)
	c.Focus()
	assert.Len(t, rec.reasons, 1)
}

func TestOnline_AlwaysFiresAndRestartsWindow(t *testing.T) {
	c, rec, clk := setup()

	c.Focus()
	clk.Advance(5 * time.Second)
	c.Offline()
	c.Online()
	assert.Equal(t, []Reason{ReasonFocus, ReasonOnline}, rec.reasons)

	// The window now starts at the online event.
	clk.Advance(44 * time.Second)
	c.Focus()
	assert.Len(t, rec.reasons, 2)

	clk.Advance(2 * time.Second)
	c.Focus()
	assert.Len(t, rec.reasons, 3)
}

func TestOnline_FiresEvenWhenAlreadyOnline(t *testing.T) {
	c, rec, _ := setup()
	c.Online()
	c.Online()
	assert.Equal(t, []Reason{ReasonOnline, ReasonOnline}, rec.reasons)
}

func TestOffline_SuppressesSignals(t *testing.T) {
	c, rec, _ := setup()

	c.Offline()
	assert.False(t, c.IsOnline())
	c.Focus()
	c.Visible()
	c.Activate()
	assert.Empty(t, rec.reasons)
}

func TestActivate_OnceWhenOnline(t *testing.T) {
	c, rec, clk := setup()

	c.Activate()
	c.Activate()
	assert.Equal(t, []Reason{ReasonActivate}, rec.reasons)

	// Activation opens the window like any trigger.
	clk.Advance(time.Second)
	c.Focus()
	assert.Len(t, rec.reasons, 1)
}
