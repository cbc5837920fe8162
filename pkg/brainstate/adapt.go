package brainstate

// SpacingTier selects how much breathing room the UI leaves between elements.
type SpacingTier string

const (
	SpacingCompact  SpacingTier = "compact"
	SpacingStandard SpacingTier = "standard"
	SpacingSpacious SpacingTier = "spacious"
)

// Tone selects the register of user-facing copy.
type Tone string

const (
	ToneGentle    Tone = "gentle"
	ToneStandard  Tone = "standard"
	ToneEnergetic Tone = "energetic"
)

// Descriptor is the derived UI/behavior projection of a sample. It is
// recomputed on every change and never persisted.
type Descriptor struct {
	MaxTaskComplexity int         `json:"max_task_complexity"` // 1..5 ceiling for shown tasks
	SpacingTier       SpacingTier `json:"spacing_tier"`
	TouchTargetPx     int         `json:"touch_target_px"`
	Tone              Tone        `json:"tone"`
}

// Energy bands. Ties resolve toward the more accommodating option, so the
// band boundaries are inclusive on the accommodating side.
const (
	lowEnergyMax  = 3
	highEnergyMin = 7
	lowFocusMax   = 3

	largeTouchTargetPx = 56
)

// Neutral is the descriptor used before any check-in has happened. The app
// must stay usable with no sample at all.
func Neutral() Descriptor {
	return Descriptor{
		MaxTaskComplexity: 3,
		SpacingTier:       SpacingStandard,
		TouchTargetPx:     48,
		Tone:              ToneStandard,
	}
}

// Adapt maps a sample to its descriptor. Pure and deterministic: no I/O, no
// clock. A nil sample yields the neutral default.
//
// Low focus widens touch targets regardless of the energy band — mis-tap risk
// rises with low focus independent of energy.
func Adapt(s *Sample) Descriptor {
	if s == nil {
		return Neutral()
	}

	var d Descriptor
	switch {
	case s.Energy <= lowEnergyMax:
		d = Descriptor{
			MaxTaskComplexity: 2,
			SpacingTier:       SpacingSpacious,
			TouchTargetPx:     56,
			Tone:              ToneGentle,
		}
	case s.Energy >= highEnergyMin:
		d = Descriptor{
			MaxTaskComplexity: 5,
			SpacingTier:       SpacingCompact,
			TouchTargetPx:     44,
			Tone:              ToneEnergetic,
		}
	default:
		d = Neutral()
	}

	if s.Focus <= lowFocusMax && d.TouchTargetPx < largeTouchTargetPx {
		d.TouchTargetPx = largeTouchTargetPx
	}
	return d
}
