package affect

import (
	"math"
	"time"
)

// MinInactivity is how long an entity must be quiet before decay applies.
const MinInactivity = 2 * time.Hour

// MaxChangePerApply caps the magnitude of any single channel change so one
// decay pass never causes an implausible jump.
const MaxChangePerApply = 0.3

// LogThreshold is the minimum channel movement worth a decay log entry.
const LogThreshold = 0.05

// JitterSpread is the relative perturbation applied to each delta (±20%).
const JitterSpread = 0.2

// dailyRates holds the signed per-day drift of each channel. Negative rates
// pull toward 0 during silence, positive rates pull toward 1. Fixed domain
// constants, not learned.
var dailyRates = map[Channel]float64{
	Joy:          -0.10,
	Trust:        -0.05,
	Excitement:   -0.12,
	Curiosity:    -0.08,
	Contentment:  -0.08,
	Affection:    -0.06,
	Pride:        -0.05,
	Hope:         -0.06,
	Surprise:     -0.15,
	Anticipation: -0.10,
	Anger:        -0.07,
	Disgust:      -0.05,
	Guilt:        -0.04,
	Sadness:      0.08,
	Loneliness:   0.15,
	Boredom:      0.12,
	Anxiety:      0.06,
	Fear:         0.04,
}

// Tier buckets relationship depth. Deep bonds decay faster: silence after a
// strong investment matters more.
type Tier int

const (
	TierNew Tier = iota
	TierDeveloping
	TierEstablished
	TierDeepBond
)

// Multiplier returns the decay scaling for a tier.
func (t Tier) Multiplier() float64 {
	switch t {
	case TierNew:
		return 0.5
	case TierDeveloping:
		return 0.8
	case TierDeepBond:
		return 1.2
	default:
		return 1.0
	}
}

func (t Tier) String() string {
	switch t {
	case TierNew:
		return "new"
	case TierDeveloping:
		return "developing"
	case TierEstablished:
		return "established"
	default:
		return "deep_bond"
	}
}

// RelationshipTier buckets interaction depth from message count and
// relationship age in days.
func RelationshipTier(messageCount int, ageDays float64) Tier {
	switch {
	case messageCount >= 500 || (messageCount >= 200 && ageDays >= 90):
		return TierDeepBond
	case messageCount >= 100 || ageDays >= 30:
		return TierEstablished
	case messageCount >= 20 || ageDays >= 7:
		return TierDeveloping
	default:
		return TierNew
	}
}

// DecayMultiplier maps elapsed inactivity in days to decay scale: linear up
// to one day, logarithmic after, so early absence has outsized effect and
// long absences flatten instead of running away.
func DecayMultiplier(days float64) float64 {
	if days <= 0 {
		return 0
	}
	if days <= 1 {
		return days
	}
	return 1 + 0.5*math.Log(days)
}

// Change records one channel moving during a decay application.
type Change struct {
	Channel Channel
	Old     float64
	New     float64
}

// Crossing is a threshold crossing produced by decay — an implicit
// high-priority trigger candidate reported back to the caller.
type Crossing struct {
	Subtype  string
	Channel  Channel
	Value    float64
	Strength float64
}

// Result is what one decay application produced.
type Result struct {
	Changes   []Change // all channels that moved
	Crossings []Crossing
}

// ApplyDecay drifts the vector for the given inactivity span. jitter must
// return values in [-1, 1); pass a seeded source for deterministic tests.
// The input vector is not modified.
func ApplyDecay(v Vector, inactive time.Duration, tier Tier, jitter func() float64) (Vector, Result) {
	out := v.Clone()
	var res Result
	if inactive < MinInactivity {
		return out, res
	}

	days := inactive.Hours() / 24
	mult := DecayMultiplier(days)
	scale := mult * tier.Multiplier()

	for _, ch := range Channels {
		rate, ok := dailyRates[ch]
		if !ok {
			continue
		}
		delta := rate * scale
		if jitter != nil {
			delta *= 1 + JitterSpread*jitter()
		}
		if delta > MaxChangePerApply {
			delta = MaxChangePerApply
		}
		if delta < -MaxChangePerApply {
			delta = -MaxChangePerApply
		}
		// Quantizing the delta keeps values on the precision grid and the
		// per-application bound exact.
		delta = Quantize(delta)
		if delta == 0 {
			continue
		}
		old := out.Get(ch)
		next := Quantize(Clamp01(old + delta))
		if next == old {
			continue
		}
		out[ch] = next
		res.Changes = append(res.Changes, Change{Channel: ch, Old: old, New: next})
	}

	res.Crossings = detectCrossings(out, inactive)
	return out, res
}

func detectCrossings(v Vector, inactive time.Duration) []Crossing {
	var out []Crossing
	if lon := v.Get(Loneliness); lon >= 0.7 {
		out = append(out, Crossing{Subtype: "loneliness", Channel: Loneliness, Value: lon, Strength: lon})
	}
	sad := v.Get(Sadness)
	lon := v.Get(Loneliness)
	if sad >= 0.6 && lon >= 0.6 {
		out = append(out, Crossing{
			Subtype:  "sadness_loneliness",
			Channel:  Sadness,
			Value:    sad,
			Strength: (sad + lon) / 2,
		})
	}
	if fear := v.Get(Fear); fear >= 0.6 && inactive >= 48*time.Hour {
		out = append(out, Crossing{Subtype: "fear", Channel: Fear, Value: fear, Strength: fear})
	}
	return out
}

// ApplyInteraction moves the vector after an exchange. Positive exchanges
// lift joy/trust/affection and relieve loneliness; negative ones deepen
// sadness, anger and anxiety. Intensity is 0..1.
func ApplyInteraction(v Vector, positive bool, intensity float64) Vector {
	out := v.Clone()
	intensity = Clamp01(intensity)
	if positive {
		out.Set(Joy, out.Get(Joy)+intensity*0.3)
		out.Set(Trust, out.Get(Trust)+intensity*0.1)
		out.Set(Affection, out.Get(Affection)+intensity*0.2)
		out.Set(Loneliness, out.Get(Loneliness)-intensity*0.3)
		out.Set(Sadness, out.Get(Sadness)-intensity*0.2)
		out.Set(Boredom, out.Get(Boredom)-intensity*0.2)
	} else {
		out.Set(Sadness, out.Get(Sadness)+intensity*0.3)
		out.Set(Anger, out.Get(Anger)+intensity*0.2)
		out.Set(Anxiety, out.Get(Anxiety)+intensity*0.1)
		out.Set(Trust, out.Get(Trust)-intensity*0.1)
	}
	return out
}

// Intensity summarizes how emotionally charged the vector currently is.
// Feeds the temporal detector's "silence after an intense exchange".
func Intensity(v Vector) float64 {
	peak := 0.0
	for _, ch := range Channels {
		d := math.Abs(v.Get(ch) - Neutral)
		if d > peak {
			peak = d
		}
	}
	return Clamp01(peak * 2)
}
