package trigger

import (
	"fmt"

	"github.com/keshon/pulse/internal/affect"
)

// Single-channel thresholds. Strength equals the channel value itself, so a
// barely-crossed threshold yields a weaker trigger than a saturated one.
var channelThresholds = []struct {
	channel  affect.Channel
	min      float64
	tone     string
	priority Priority
}{
	{affect.Loneliness, 0.8, "warm", PriorityHigh},
	{affect.Sadness, 0.75, "gentle", PriorityHigh},
	{affect.Anxiety, 0.7, "reassuring", PriorityMedium},
	{affect.Boredom, 0.8, "playful", PriorityMedium},
	{affect.Joy, 0.85, "celebratory", PriorityMedium},
}

// SustainedThreshold is the level a channel must hold across samples to
// count as sustained.
const SustainedThreshold = 0.6

// SustainedMinSamples is how many samples in the rolling window are needed.
const SustainedMinSamples = 3

var sustainedChannels = []affect.Channel{affect.Loneliness, affect.Sadness, affect.Anxiety}

func detectEmotional(ctx Context) []Trigger {
	var out []Trigger

	// Crossings reported by the decay engine are already high priority.
	for _, c := range ctx.Crossings {
		out = append(out, Trigger{
			Type:     Emotional,
			Subtype:  c.Subtype,
			Strength: clamp01(c.Strength),
			Details:  fmt.Sprintf("%s reached %.1f during inactivity", c.Channel, c.Value),
			Tone:     "warm",
			Priority: PriorityHigh,
		})
	}

	for _, th := range channelThresholds {
		v := ctx.Affect.Get(th.channel)
		if v <= th.min {
			continue
		}
		out = append(out, Trigger{
			Type:     Emotional,
			Subtype:  string(th.channel),
			Strength: v,
			Details:  fmt.Sprintf("%s at %.1f, above %.2f", th.channel, v, th.min),
			Tone:     th.tone,
			Priority: th.priority,
		})
	}

	// Sustained emotion: a channel held above threshold across enough
	// samples inside the rolling window.
	for _, ch := range sustainedChannels {
		samples := ctx.Samples[ch]
		var above int
		var sum float64
		for _, s := range samples {
			if s >= SustainedThreshold {
				above++
				sum += s
			}
		}
		if above >= SustainedMinSamples {
			out = append(out, Trigger{
				Type:     Emotional,
				Subtype:  "sustained_" + string(ch),
				Strength: clamp01(sum / float64(above)),
				Details:  fmt.Sprintf("%s held above %.1f across %d samples in 24h", ch, SustainedThreshold, above),
				Tone:     "gentle",
				Priority: PriorityMedium,
			})
		}
	}

	// Conflicting simultaneous highs read as a distinct signal.
	joy := ctx.Affect.Get(affect.Joy)
	sad := ctx.Affect.Get(affect.Sadness)
	if joy > 0.6 && sad > 0.6 {
		out = append(out, Trigger{
			Type:     Emotional,
			Subtype:  "emotional_conflict",
			Strength: clamp01((joy + sad) / 2),
			Details:  fmt.Sprintf("joy %.1f and sadness %.1f simultaneously high", joy, sad),
			Tone:     "thoughtful",
			Priority: PriorityMedium,
		})
	}

	return out
}
