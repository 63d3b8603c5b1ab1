package filters

import "fmt"

// ApplyPreset sets the underlying blocks for the named preset and flips its
// [Stack.FiltersStatus] flag. level is only consulted for [PresetBassBoost]
// and must be in [-3, 3]; it is ignored for every other preset.
func (s *Stack) ApplyPreset(p Preset, level float64) error {
	if s.active == nil {
		s.active = make(map[Preset]bool)
	}

	switch p {
	case PresetBassBoost:
		if level < -3 || level > 3 {
			return fmt.Errorf("filters: bassBoost level %.2f out of range [-3, 3]", level)
		}
		gain := 0.05 * level
		s.Equalizer = []EqualizerBand{
			{Band: 0, Gain: gain}, {Band: 1, Gain: gain}, {Band: 2, Gain: gain * 0.8},
		}
	case PresetNightcore:
		s.Timescale = &Timescale{Speed: 1.2, Pitch: 1.2, Rate: 1.0}
	case PresetSlowmo:
		s.Timescale = &Timescale{Speed: 0.8, Pitch: 1.0, Rate: 0.8}
	case Preset8D:
		s.Rotation = &Rotation{RotationHz: 0.2}
	case PresetVaporwave:
		s.Timescale = &Timescale{Speed: 0.85, Pitch: 0.8, Rate: 1.0}
	case PresetSoft:
		s.Equalizer = []EqualizerBand{{Band: 10, Gain: -0.25}, {Band: 11, Gain: -0.25}, {Band: 12, Gain: -0.25}}
	case PresetTV:
		s.Equalizer = []EqualizerBand{{Band: 5, Gain: 0.3}, {Band: 6, Gain: 0.3}}
	case PresetParty:
		s.Timescale = &Timescale{Speed: 1.05, Pitch: 1.05, Rate: 1.0}
	case PresetChipmunk:
		s.Timescale = &Timescale{Speed: 1.05, Pitch: 1.35, Rate: 1.25}
	case PresetChina:
		s.Timescale = &Timescale{Speed: 1.0, Pitch: 1.25, Rate: 1.25}
	case PresetDaycore:
		s.Timescale = &Timescale{Speed: 0.95, Pitch: 0.8, Rate: 1.0}
	case PresetDoubletime:
		s.Timescale = &Timescale{Speed: 2.0, Pitch: 1.0, Rate: 1.0}
	case PresetDemon:
		s.Timescale = &Timescale{Speed: 1.0, Pitch: 0.78, Rate: 1.0}
	case PresetEarrape:
		s.Volume = floatPtr(5.0)
	case PresetElectronic:
		s.Equalizer = []EqualizerBand{
			{Band: 0, Gain: 0.375}, {Band: 1, Gain: 0.35}, {Band: 2, Gain: 0.125},
			{Band: 3, Gain: 0}, {Band: 4, Gain: 0}, {Band: 5, Gain: -0.125},
			{Band: 6, Gain: -0.125}, {Band: 7, Gain: -0.125}, {Band: 8, Gain: 0},
			{Band: 9, Gain: 0.25}, {Band: 10, Gain: 0.125}, {Band: 11, Gain: 0.15},
			{Band: 12, Gain: 0.05}, {Band: 13, Gain: 0.125},
		}
	case PresetRadio:
		s.Equalizer = []EqualizerBand{{Band: 0, Gain: -0.25}, {Band: 1, Gain: -0.25}, {Band: 13, Gain: -0.25}}
	case PresetTremolo:
		s.Vibrato = &Vibrato{Frequency: 2, Depth: 0.5}
	case PresetTrebleBass:
		s.Equalizer = []EqualizerBand{
			{Band: 0, Gain: 0.25}, {Band: 1, Gain: 0.15}, {Band: 12, Gain: 0.2}, {Band: 13, Gain: 0.25},
		}
	case PresetPop:
		s.Equalizer = []EqualizerBand{{Band: 2, Gain: 0.15}, {Band: 3, Gain: 0.15}, {Band: 4, Gain: 0.1}}
	case PresetDistort:
		s.Distortion = &Distortion{SinScale: 0.2, CosScale: 0.2, TanScale: 0.2, Offset: 0, Scale: 1}
	case PresetDarthVader:
		s.Timescale = &Timescale{Speed: 0.975, Pitch: 0.5, Rate: 1.0}
	default:
		return fmt.Errorf("filters: unrecognised preset %q", p)
	}

	s.active[p] = true
	return nil
}

// ClearFilters resets all blocks and preset flags and returns the cleared
// payload to be pushed to the hosting node.
func (s *Stack) ClearFilters() ([]byte, error) {
	s.Clear()
	return s.Payload()
}
