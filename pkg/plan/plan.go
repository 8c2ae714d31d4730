package plan

import (
	"fmt"

	"github.com/hdrcam/capture-shot/pkg/solar"
)

// Mode selects how the webcam meters a shot.
type Mode int

const (
	AutoFalse Mode = iota
	AutoTrue
	Manual
)

func (m Mode) String() string {
	switch m {
	case AutoFalse:
		return "auto-false"
	case AutoTrue:
		return "auto-true"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// CaptureSpec is one planned shot.
type CaptureSpec struct {
	Mode Mode
	// Exposure and FrameFactor are only meaningful for Manual shots.
	Exposure    int
	FrameFactor int
	FrameCount  int
}

// FrameTable maps a day phase to the number of frames averaged per shot.
type FrameTable map[solar.DayPhase]int

// DefaultFrameTable is the stock policy: darker scenes average more frames.
var DefaultFrameTable = FrameTable{
	solar.Daylight: 10,
	solar.Twilight: 50,
	solar.Night:    100,
}

// Merge returns a copy of t with the positive entries of override applied.
func (t FrameTable) Merge(override FrameTable) FrameTable {
	out := make(FrameTable, len(t))
	for p, n := range t {
		out[p] = n
	}
	for p, n := range override {
		if n > 0 {
			out[p] = n
		}
	}
	return out
}

// bracketStep is one rung of the manual exposure ladder.
type bracketStep struct {
	Scale       int
	FrameFactor int
}

var (
	bracketMultipliers = []int{1, 2, 5}
	bracketScales      = []bracketStep{
		{Scale: 1, FrameFactor: 1},
		{Scale: 10, FrameFactor: 1},
		{Scale: 100, FrameFactor: 1},
		// The longest exposures are the noisiest; double their frames.
		{Scale: 1000, FrameFactor: 2},
	}
)

// ManualBracket returns the manual ladder in ascending exposure order with
// FrameCount left at zero.
func ManualBracket() []CaptureSpec {
	out := make([]CaptureSpec, 0, len(bracketMultipliers)*len(bracketScales))
	for _, s := range bracketScales {
		for _, m := range bracketMultipliers {
			out = append(out, CaptureSpec{Mode: Manual, Exposure: m * s.Scale, FrameFactor: s.FrameFactor})
		}
	}
	return out
}

// Build returns the ordered capture plan for phase: auto-false, auto-true,
// then the manual bracket in ascending exposure order.
func Build(phase solar.DayPhase, table FrameTable) ([]CaptureSpec, error) {
	frames, ok := table[phase]
	if !ok || frames <= 0 {
		return nil, fmt.Errorf("no frame count configured for phase %s", phase)
	}

	bracket := ManualBracket()
	specs := make([]CaptureSpec, 0, 2+len(bracket))
	specs = append(specs,
		CaptureSpec{Mode: AutoFalse, FrameCount: frames},
		CaptureSpec{Mode: AutoTrue, FrameCount: frames},
	)
	for _, s := range bracket {
		s.FrameCount = frames * s.FrameFactor
		specs = append(specs, s)
	}
	return specs, nil
}

// BuildDefault is Build with DefaultFrameTable.
func BuildDefault(phase solar.DayPhase) []CaptureSpec {
	specs, _ := Build(phase, DefaultFrameTable)
	return specs
}
