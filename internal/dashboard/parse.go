package dashboard

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/MrSnakeDoc/chiron/internal/errs"
)

// Wire shapes. Pointers distinguish "absent" from zero values so that
// required fields can be enforced while 0 and "" stay legal.
type wireSnapshot struct {
	GeneratedAt *string     `json:"generated_at" validate:"required"`
	HeroGates   []wireGate  `json:"hero_gates" validate:"dive"`
	Timeline    []wireEntry `json:"timeline" validate:"dive"`
}

type wireGate struct {
	Name   *string  `json:"name" validate:"required"`
	Score  *float64 `json:"score" validate:"required,integral,min=0,max=100"`
	Status *string  `json:"status" validate:"required,oneof=pass warn fail"`
}

type wireEntry struct {
	Time   *string `json:"time" validate:"required"`
	Label  *string `json:"label" validate:"required"`
	Impact *string `json:"impact" validate:"required"`
	Tone   *string `json:"tone" validate:"required,tone"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("integral", func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return !math.IsInf(v, 0) && v == math.Trunc(v)
		})
		_ = validate.RegisterValidation("tone", func(fl validator.FieldLevel) bool {
			_, err := ParseTone(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Parse decodes and validates a summary payload. REST responses and stream
// events share this schema. Every failure is an errs.Validation error.
func Parse(payload []byte) (Snapshot, error) {
	const op = "parse snapshot"

	var w wireSnapshot
	if err := json.Unmarshal(payload, &w); err != nil {
		return Snapshot{}, errs.New(errs.Validation, op, fmt.Errorf("decode: %w", err))
	}

	if err := getValidator().Struct(&w); err != nil {
		return Snapshot{}, errs.New(errs.Validation, op, describe(err))
	}

	generatedAt, err := ParseTimestamp(*w.GeneratedAt)
	if err != nil {
		return Snapshot{}, errs.New(errs.Validation, op, fmt.Errorf("generated_at: %w", err))
	}

	gates := make([]HeroGate, 0, len(w.HeroGates))
	for _, g := range w.HeroGates {
		status, err := ParseStatus(*g.Status)
		if err != nil {
			return Snapshot{}, errs.New(errs.Validation, op, err)
		}
		gates = append(gates, HeroGate{Name: *g.Name, Score: int(*g.Score), Status: status})
	}

	timeline := make([]TimelineEntry, 0, len(w.Timeline))
	for _, e := range w.Timeline {
		tone, err := ParseTone(*e.Tone)
		if err != nil {
			return Snapshot{}, errs.New(errs.Validation, op, err)
		}
		timeline = append(timeline, TimelineEntry{Time: *e.Time, Label: *e.Label, Impact: *e.Impact, Tone: tone})
	}

	return Snapshot{generatedAt: generatedAt, heroGates: gates, timeline: timeline}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}

// Marshal writes s in the wire schema so Parse(Marshal(s)) == s.
func Marshal(s Snapshot) ([]byte, error) {
	type gate struct {
		Name   string `json:"name"`
		Score  int    `json:"score"`
		Status string `json:"status"`
	}
	type entry struct {
		Time   string `json:"time"`
		Label  string `json:"label"`
		Impact string `json:"impact"`
		Tone   string `json:"tone"`
	}
	out := struct {
		GeneratedAt string  `json:"generated_at"`
		HeroGates   []gate  `json:"hero_gates"`
		Timeline    []entry `json:"timeline"`
	}{
		GeneratedAt: s.generatedAt.UTC().Format(time.RFC3339Nano),
		HeroGates:   make([]gate, 0, len(s.heroGates)),
		Timeline:    make([]entry, 0, len(s.timeline)),
	}
	for _, g := range s.heroGates {
		out.HeroGates = append(out.HeroGates, gate{Name: g.Name, Score: g.Score, Status: string(g.Status)})
	}
	for _, e := range s.timeline {
		out.Timeline = append(out.Timeline, entry{Time: e.Time, Label: e.Label, Impact: e.Impact, Tone: string(e.Tone)})
	}
	return json.Marshal(out)
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace is "wireSnapshot.hero_gates[0].score"; drop the type name.
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return path + ": required"
	case "min":
		return fmt.Sprintf("%s: %v is below %s", path, fe.Value(), fe.Param())
	case "max":
		return fmt.Sprintf("%s: %v is above %s", path, fe.Value(), fe.Param())
	case "integral":
		return fmt.Sprintf("%s: %v is not an integer", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: %v is not one of [%s]", path, fe.Value(), fe.Param())
	case "tone":
		return fmt.Sprintf("%s: unknown tone %v", path, fe.Value())
	}
	return fmt.Sprintf("%s: failed %s", path, fe.Tag())
}
