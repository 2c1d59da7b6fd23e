package safety

import "github.com/nerrad567/pentair-cloud-core/internal/program"

// Preset mode names.
const (
	PresetOff    = "off"
	PresetLow    = "low"
	PresetMedium = "medium"
	PresetHigh   = "high"
	PresetMax    = "max"
)

var presetSpeeds = []struct {
	name  string
	speed int
}{
	{PresetOff, program.SpeedOff},
	{PresetLow, program.SpeedLow},
	{PresetMedium, program.SpeedMedium},
	{PresetHigh, program.SpeedHigh},
	{PresetMax, program.SpeedMax},
}

// PresetModes lists the preset names from slowest to fastest.
func PresetModes() []string {
	names := make([]string, len(presetSpeeds))
	for i, p := range presetSpeeds {
		names[i] = p.name
	}
	return names
}

// PresetSpeed returns the percentage for a preset name.
func PresetSpeed(name string) (int, bool) {
	for _, p := range presetSpeeds {
		if p.name == name {
			return p.speed, true
		}
	}
	return 0, false
}

// PresetFor returns the preset describing a percentage.
func PresetFor(percentage int) string {
	for i := len(presetSpeeds) - 1; i > 0; i-- {
		if percentage >= presetSpeeds[i].speed {
			return presetSpeeds[i].name
		}
	}
	return PresetOff
}
