package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdrcam/capture-shot/pkg/solar"
)

func TestBuild_Shape(t *testing.T) {
	for _, phase := range solar.Phases() {
		t.Run(phase.String(), func(t *testing.T) {
			specs, err := Build(phase, DefaultFrameTable)
			require.NoError(t, err)
			require.Len(t, specs, 14)

			frames := DefaultFrameTable[phase]
			assert.Equal(t, CaptureSpec{Mode: AutoFalse, FrameCount: frames}, specs[0])
			assert.Equal(t, CaptureSpec{Mode: AutoTrue, FrameCount: frames}, specs[1])

			var exposures []int
			for _, s := range specs[2:] {
				require.Equal(t, Manual, s.Mode)
				exposures = append(exposures, s.Exposure)
				assert.Equal(t, frames*s.FrameFactor, s.FrameCount)
			}
			assert.Equal(t, []int{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}, exposures)
		})
	}
}

func TestBuild_DaylightFrameCounts(t *testing.T) {
	for _, s := range BuildDefault(solar.Daylight)[2:] {
		factor := 1
		if s.Exposure >= 1000 {
			factor = 2
		}
		assert.Equal(t, factor, s.FrameFactor, "exposure %d", s.Exposure)
		assert.Equal(t, 10*factor, s.FrameCount, "exposure %d", s.Exposure)
	}
}

func TestBuild_EndToEndScenario(t *testing.T) {
	tests := []struct {
		phase solar.DayPhase
		want  int
	}{
		{solar.Daylight, 10},
		{solar.Twilight, 50},
		{solar.Night, 100},
	}
	for _, tt := range tests {
		specs := BuildDefault(tt.phase)
		assert.Equal(t, tt.want, specs[0].FrameCount, tt.phase.String())
		assert.Equal(t, 2*tt.want, specs[len(specs)-1].FrameCount, tt.phase.String())
	}
}

func TestBuild_Deterministic(t *testing.T) {
	a, err := Build(solar.Night, DefaultFrameTable)
	require.NoError(t, err)
	b, err := Build(solar.Night, DefaultFrameTable)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_MissingPhase(t *testing.T) {
	_, err := Build(solar.Twilight, FrameTable{solar.Daylight: 10})
	assert.Error(t, err)

	_, err = Build(solar.Daylight, FrameTable{solar.Daylight: 0})
	assert.Error(t, err)
}

func TestFrameTable_Merge(t *testing.T) {
	merged := DefaultFrameTable.Merge(FrameTable{solar.Night: 200, solar.Twilight: 0})
	assert.Equal(t, 200, merged[solar.Night])
	assert.Equal(t, 50, merged[solar.Twilight])
	assert.Equal(t, 100, DefaultFrameTable[solar.Night], "default table must not change")
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "auto-false", AutoFalse.String())
	assert.Equal(t, "auto-true", AutoTrue.String())
	assert.Equal(t, "manual", Manual.String())
}
