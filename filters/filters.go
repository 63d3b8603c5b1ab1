// Package filters implements the composable audio-effect state pushed to an
// audio node's player as a "filters" PATCH payload, plus the named preset
// shortcuts layered on top of it.
package filters

import (
	"github.com/tidwall/sjson"
)

// EqualizerBand is one band of a 15-band equalizer, gain in [-0.25, 1.0].
type EqualizerBand struct {
	Band float64 `json:"band"`
	Gain float64 `json:"gain"`
}

// Karaoke attenuates a frequency band, typically to remove vocals.
type Karaoke struct {
	Level       float64 `json:"level"`
	MonoLevel   float64 `json:"monoLevel"`
	FilterBand  float64 `json:"filterBand"`
	FilterWidth float64 `json:"filterWidth"`
}

// Timescale changes playback speed, pitch, and rate independently.
type Timescale struct {
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// Vibrato applies a periodic pitch oscillation.
type Vibrato struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
}

// Rotation simulates audio rotating around the listener's head.
type Rotation struct {
	RotationHz float64 `json:"rotationHz"`
}

// Distortion applies waveform distortion.
type Distortion struct {
	SinOffset float64 `json:"sinOffset"`
	SinScale  float64 `json:"sinScale"`
	CosOffset float64 `json:"cosOffset"`
	CosScale  float64 `json:"cosScale"`
	TanOffset float64 `json:"tanOffset"`
	TanScale  float64 `json:"tanScale"`
	Offset    float64 `json:"offset"`
	Scale     float64 `json:"scale"`
}

// Reverb simulates room reflections.
type Reverb struct {
	RoomSize float64 `json:"roomSize"`
	Damping  float64 `json:"damping"`
	WetLevel float64 `json:"wetLevel"`
	DryLevel float64 `json:"dryLevel"`
	Width    float64 `json:"width"`
}

// Preset names the sugar shortcuts offered by [Stack.ApplyPreset].
type Preset string

const (
	PresetBassBoost   Preset = "bassBoost"
	PresetNightcore   Preset = "nightcore"
	PresetSlowmo      Preset = "slowmo"
	Preset8D          Preset = "8D"
	PresetVaporwave   Preset = "vaporwave"
	PresetSoft        Preset = "soft"
	PresetTV          Preset = "tv"
	PresetParty       Preset = "party"
	PresetChipmunk    Preset = "chipmunk"
	PresetChina       Preset = "china"
	PresetDaycore     Preset = "daycore"
	PresetDoubletime  Preset = "doubletime"
	PresetDemon       Preset = "demon"
	PresetEarrape     Preset = "earrape"
	PresetElectronic  Preset = "electronic"
	PresetRadio       Preset = "radio"
	PresetTremolo     Preset = "tremolo"
	PresetTrebleBass  Preset = "trebleBass"
	PresetPop         Preset = "pop"
	PresetDistort     Preset = "distort"
	PresetDarthVader  Preset = "darthvader"
)

// presetNames lists every recognised preset name for [Stack.FiltersStatus].
var presetNames = []Preset{
	PresetBassBoost, PresetNightcore, PresetSlowmo, Preset8D, PresetVaporwave,
	PresetSoft, PresetTV, PresetParty, PresetChipmunk, PresetChina, PresetDaycore,
	PresetDoubletime, PresetDemon, PresetEarrape, PresetElectronic, PresetRadio,
	PresetTremolo, PresetTrebleBass, PresetPop, PresetDistort, PresetDarthVader,
}

// Stack holds the optional filter blocks and volume for one player. The
// zero value is a valid, empty filter stack.
type Stack struct {
	Volume     *float64
	Equalizer  []EqualizerBand
	Karaoke    *Karaoke
	Timescale  *Timescale
	Vibrato    *Vibrato
	Rotation   *Rotation
	Distortion *Distortion
	Reverb     *Reverb

	active map[Preset]bool
}

// FiltersStatus returns a map from every recognised preset name to whether
// it is currently active.
func (s *Stack) FiltersStatus() map[Preset]bool {
	status := make(map[Preset]bool, len(presetNames))
	for _, p := range presetNames {
		status[p] = s.active != nil && s.active[p]
	}
	return status
}

// Payload builds the JSON body for the node's filters PATCH field,
// containing exactly the non-nil blocks currently set.
func (s *Stack) Payload() ([]byte, error) {
	json := "{}"
	var err error

	if s.Volume != nil {
		if json, err = sjson.Set(json, "volume", *s.Volume); err != nil {
			return nil, err
		}
	}
	if len(s.Equalizer) > 0 {
		if json, err = sjson.Set(json, "equalizer", s.Equalizer); err != nil {
			return nil, err
		}
	}
	if s.Karaoke != nil {
		if json, err = sjson.Set(json, "karaoke", s.Karaoke); err != nil {
			return nil, err
		}
	}
	if s.Timescale != nil {
		if json, err = sjson.Set(json, "timescale", s.Timescale); err != nil {
			return nil, err
		}
	}
	if s.Vibrato != nil {
		if json, err = sjson.Set(json, "vibrato", s.Vibrato); err != nil {
			return nil, err
		}
	}
	if s.Rotation != nil {
		if json, err = sjson.Set(json, "rotation", s.Rotation); err != nil {
			return nil, err
		}
	}
	if s.Distortion != nil {
		if json, err = sjson.Set(json, "distortion", s.Distortion); err != nil {
			return nil, err
		}
	}
	if s.Reverb != nil {
		if json, err = sjson.Set(json, "reverb", s.Reverb); err != nil {
			return nil, err
		}
	}
	return []byte(json), nil
}

// Clear resets every block, volume, and preset flag.
func (s *Stack) Clear() {
	*s = Stack{}
}

func floatPtr(f float64) *float64 { return &f }
