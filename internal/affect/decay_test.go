package affect

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestNewVectorNeutral(t *testing.T) {
	v := NewVector()
	if len(v) != len(Channels) {
		t.Fatalf("expected %d channels, got %d", len(Channels), len(v))
	}
	for _, ch := range Channels {
		if v.Get(ch) != Neutral {
			t.Fatalf("%s not neutral: %v", ch, v.Get(ch))
		}
	}
}

func TestVectorJSONRoundTrip(t *testing.T) {
	v := NewVector()
	v.Set(Loneliness, 0.8)
	v.Set(Joy, 0.23) // quantized to 0.2 on write

	got := FromJSON(v.ToJSON())
	if got.Get(Loneliness) != 0.8 {
		t.Fatalf("loneliness: %v", got.Get(Loneliness))
	}
	if got.Get(Joy) != 0.2 {
		t.Fatalf("joy should quantize to 0.2, got %v", got.Get(Joy))
	}
	if got.Get(Trust) != Neutral {
		t.Fatalf("untouched channel drifted: %v", got.Get(Trust))
	}
}

func TestFromJSONGarbage(t *testing.T) {
	for _, data := range []string{"", "{", `{"joy": 7}`, `{"unknown": 0.4}`} {
		v := FromJSON(data)
		for _, ch := range Channels {
			val := v.Get(ch)
			if val < 0 || val > 1 {
				t.Fatalf("%q produced out-of-range %s=%v", data, ch, val)
			}
		}
	}
}

func TestDecayMultiplier(t *testing.T) {
	cases := []struct {
		days float64
		want float64
	}{
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{math.E, 1.5}, // 1 + 0.5*ln(e)
	}
	for _, c := range cases {
		if got := DecayMultiplier(c.days); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("DecayMultiplier(%v) = %v, want %v", c.days, got, c.want)
		}
	}
	// Sub-logarithmic growth: a week is well under 7x a day.
	if got := DecayMultiplier(7); got >= 3 {
		t.Fatalf("week multiplier should flatten, got %v", got)
	}
}

func TestRelationshipTier(t *testing.T) {
	cases := []struct {
		msgs int
		days float64
		want Tier
	}{
		{5, 2, TierNew},
		{25, 2, TierDeveloping},
		{5, 10, TierDeveloping},
		{120, 10, TierEstablished},
		{5, 45, TierEstablished},
		{600, 10, TierDeepBond},
		{250, 100, TierDeepBond},
	}
	for _, c := range cases {
		if got := RelationshipTier(c.msgs, c.days); got != c.want {
			t.Fatalf("RelationshipTier(%d, %v) = %s, want %s", c.msgs, c.days, got, c.want)
		}
	}
}

func TestTierMultipliers(t *testing.T) {
	if TierNew.Multiplier() >= TierDeveloping.Multiplier() ||
		TierDeveloping.Multiplier() >= TierEstablished.Multiplier() ||
		TierEstablished.Multiplier() >= TierDeepBond.Multiplier() {
		t.Fatal("tier multipliers must be strictly increasing")
	}
}

func TestApplyDecayBelowMinInactivity(t *testing.T) {
	v := NewVector()
	out, res := ApplyDecay(v, time.Hour, TierEstablished, nil)
	if len(res.Changes) != 0 {
		t.Fatalf("decay applied under the inactivity floor: %d changes", len(res.Changes))
	}
	for _, ch := range Channels {
		if out.Get(ch) != v.Get(ch) {
			t.Fatalf("%s moved: %v", ch, out.Get(ch))
		}
	}
}

func TestApplyDecayOneDayEstablished(t *testing.T) {
	v := NewVector()
	out, res := ApplyDecay(v, 24*time.Hour, TierEstablished, nil)

	// One neutral day, no jitter: loneliness climbs its +0.15 daily rate
	// (snapped to the 0.1 grid), joy drops its -0.10 and lands on 0.4.
	if got := out.Get(Loneliness); got <= Neutral || got > Neutral+0.2+1e-9 {
		t.Fatalf("loneliness after a day: %v", got)
	}
	if got := out.Get(Joy); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("joy after a day: %v", got)
	}
	if len(res.Changes) == 0 {
		t.Fatal("expected recorded changes")
	}
	// Input untouched.
	if v.Get(Loneliness) != Neutral {
		t.Fatalf("input vector mutated: %v", v.Get(Loneliness))
	}
}

func TestApplyDecayBounded(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	jitter := func() float64 { return rnd.Float64()*2 - 1 }

	spans := []time.Duration{3 * time.Hour, 24 * time.Hour, 5 * 24 * time.Hour, 60 * 24 * time.Hour}
	tiers := []Tier{TierNew, TierDeveloping, TierEstablished, TierDeepBond}

	for _, span := range spans {
		for _, tier := range tiers {
			v := NewVector()
			v.Set(Loneliness, 0.9)
			v.Set(Joy, 0.1)
			out, res := ApplyDecay(v, span, tier, jitter)
			for _, c := range res.Changes {
				if d := math.Abs(c.New - c.Old); d > MaxChangePerApply+1e-9 {
					t.Fatalf("%s moved %v in one application (span=%v tier=%s)", c.Channel, d, span, tier)
				}
			}
			for _, ch := range Channels {
				val := out.Get(ch)
				if val < 0 || val > 1 {
					t.Fatalf("%s out of range: %v", ch, val)
				}
				if q := Quantize(val); math.Abs(q-val) > 1e-9 {
					t.Fatalf("%s off the precision grid: %v", ch, val)
				}
			}
		}
	}
}

func TestApplyDecayTierScaling(t *testing.T) {
	newV, _ := ApplyDecay(NewVector(), 24*time.Hour, TierNew, nil)
	deepV, _ := ApplyDecay(NewVector(), 24*time.Hour, TierDeepBond, nil)
	if deepV.Get(Loneliness) < newV.Get(Loneliness) {
		t.Fatalf("deep bond should decay at least as fast: %v vs %v",
			deepV.Get(Loneliness), newV.Get(Loneliness))
	}
}

func TestCrossings(t *testing.T) {
	v := NewVector()
	v.Set(Loneliness, 0.8)
	v.Set(Sadness, 0.6)
	v.Set(Fear, 0.7)

	got := detectCrossings(v, 72*time.Hour)
	subtypes := map[string]bool{}
	for _, c := range got {
		subtypes[c.Subtype] = true
	}
	for _, want := range []string{"loneliness", "sadness_loneliness", "fear"} {
		if !subtypes[want] {
			t.Fatalf("missing crossing %s in %v", want, subtypes)
		}
	}

	// Fear requires prolonged silence.
	got = detectCrossings(v, 24*time.Hour)
	for _, c := range got {
		if c.Subtype == "fear" {
			t.Fatal("fear crossing fired before 48h of silence")
		}
	}
}

func TestApplyInteraction(t *testing.T) {
	v := NewVector()
	v.Set(Loneliness, 0.8)

	pos := ApplyInteraction(v, true, 1.0)
	if pos.Get(Loneliness) >= v.Get(Loneliness) {
		t.Fatal("positive interaction should relieve loneliness")
	}
	if pos.Get(Joy) <= v.Get(Joy) {
		t.Fatal("positive interaction should lift joy")
	}

	neg := ApplyInteraction(v, false, 1.0)
	if neg.Get(Sadness) <= v.Get(Sadness) {
		t.Fatal("negative interaction should deepen sadness")
	}
}

func TestIntensity(t *testing.T) {
	if got := Intensity(NewVector()); got != 0 {
		t.Fatalf("neutral vector intensity: %v", got)
	}
	v := NewVector()
	v.Set(Fear, 1.0)
	if got := Intensity(v); got != 1.0 {
		t.Fatalf("saturated channel intensity: %v", got)
	}
}
