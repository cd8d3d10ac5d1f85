package dashboard

import (
	"fmt"
	"slices"
	"time"
)

// Status is the health tier of a hero gate.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPass, StatusWarn, StatusFail:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q (want pass, warn or fail)", s)
}

// Tier maps the status onto the printer's ok/degraded/bad scale.
func (s Status) Tier() string {
	switch s {
	case StatusPass:
		return "ok"
	case StatusWarn:
		return "degraded"
	case StatusFail:
		return "bad"
	}
	return ""
}

// Tone is the emphasis of a timeline entry.
type Tone string

const (
	TonePositive Tone = "positive"
	ToneCaution  Tone = "caution"
	ToneCritical Tone = "critical"
)

// toneAliases is the only accepted spelling outside the canonical set: the
// dashboard API mock still emits CSS utility classes as tones.
var toneAliases = map[string]Tone{
	"text-successMint": TonePositive,
	"text-warn":        ToneCaution,
	"text-danger":      ToneCritical,
}

func ParseTone(s string) (Tone, error) {
	switch Tone(s) {
	case TonePositive, ToneCaution, ToneCritical:
		return Tone(s), nil
	}
	if t, ok := toneAliases[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown tone %q (want positive, caution or critical)", s)
}

func (t Tone) Tier() string {
	switch t {
	case TonePositive:
		return "ok"
	case ToneCaution:
		return "degraded"
	case ToneCritical:
		return "bad"
	}
	return ""
}

// HeroGate is a named subsystem health indicator. Names are expected to be
// unique within a snapshot but this is not enforced.
type HeroGate struct {
	Name   string
	Score  int
	Status Status
}

type TimelineEntry struct {
	Time   string
	Label  string
	Impact string
	Tone   Tone
}

// Snapshot is one complete dashboard state. It is immutable: the slices are
// copied on construction and on every read, so holders can share a Snapshot
// freely across goroutines.
type Snapshot struct {
	generatedAt time.Time
	heroGates   []HeroGate
	timeline    []TimelineEntry
}

func NewSnapshot(generatedAt time.Time, gates []HeroGate, timeline []TimelineEntry) Snapshot {
	return Snapshot{
		generatedAt: generatedAt,
		heroGates:   slices.Clone(gates),
		timeline:    slices.Clone(timeline),
	}
}

func (s Snapshot) GeneratedAt() time.Time { return s.generatedAt }

func (s Snapshot) HeroGates() []HeroGate { return slices.Clone(s.heroGates) }

// Timeline returns entries in upstream order (newest first by convention).
func (s Snapshot) Timeline() []TimelineEntry { return slices.Clone(s.timeline) }

func (s Snapshot) Equal(o Snapshot) bool {
	return s.generatedAt.Equal(o.generatedAt) &&
		slices.Equal(s.heroGates, o.heroGates) &&
		slices.Equal(s.timeline, o.timeline)
}

// ConnectionState drives status display only; the cache stays correct in
// every state.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Streaming
	Reconnecting
	Offline
)

func (c ConnectionState) String() string {
	switch c {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Offline:
		return "offline"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(c))
}

func (c ConnectionState) Tier() string {
	switch c {
	case Streaming:
		return "ok"
	case Connecting, Reconnecting:
		return "degraded"
	case Offline:
		return "bad"
	}
	return ""
}
