package solar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayPhase is the coarse light condition used to size a capture plan.
type DayPhase int

const (
	Night DayPhase = iota
	Twilight
	Daylight
)

// FallbackPhase is used when the solar events of a day cannot be computed.
// Night carries the longest frame count, so nothing gets underexposed.
const FallbackPhase = Night

// DaylightMargin shrinks the daylight window on both sides of the sunrise-sunset span.
const DaylightMargin = 30 * time.Minute

var phaseNames = map[DayPhase]string{
	Night:    "night",
	Twilight: "twilight",
	Daylight: "daylight",
}

func (p DayPhase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("DayPhase(%d)", int(p))
}

// ParsePhase is the inverse of String, case-insensitive.
func ParsePhase(s string) (DayPhase, error) {
	for p, name := range phaseNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown day phase %q", s)
}

// Phases lists every phase, darkest first.
func Phases() []DayPhase {
	return []DayPhase{Night, Twilight, Daylight}
}

// Classify places instant into a phase. Comparisons are strict: an instant
// sitting exactly on a boundary falls through to the next rule.
func Classify(ev Events, instant time.Time) DayPhase {
	if instant.After(ev.Sunrise.Add(DaylightMargin)) && instant.Before(ev.Sunset.Add(-DaylightMargin)) {
		return Daylight
	}
	if instant.After(ev.Dawn) && instant.Before(ev.Dusk) {
		return Twilight
	}
	return Night
}

// ClassifyAt computes the events of the instant's local day and classifies it.
// On error the returned phase is meaningless; see PhaseOrFallback.
func ClassifyAt(loc Location, instant time.Time) (DayPhase, Events, error) {
	ev, err := EventsOn(loc, instant)
	if err != nil {
		return FallbackPhase, Events{}, err
	}
	return Classify(ev, instant), ev, nil
}

// PhaseOrFallback returns phase, or FallbackPhase when err reports a missing
// solar event. Any other error is returned unchanged.
func PhaseOrFallback(phase DayPhase, err error) (DayPhase, error) {
	if err == nil {
		return phase, nil
	}
	var noEvent *NoSolarEventError
	if errors.As(err, &noEvent) {
		return FallbackPhase, nil
	}
	return phase, err
}
