package trigger

import "fmt"

// VolumeRatio is how far above typical the recent message count must be to
// read as a stress proxy.
const VolumeRatio = 2.0

// UnusualHourMin is how many small-hours messages flag unusual activity.
const UnusualHourMin = 3

// OpenThreadStrength scores a question left hanging at session end.
const OpenThreadStrength = 0.65

func detectContextual(ctx Context) []Trigger {
	var out []Trigger

	if ctx.TypicalMessages > 0 && float64(ctx.RecentMessages) >= VolumeRatio*ctx.TypicalMessages {
		ratio := float64(ctx.RecentMessages) / ctx.TypicalMessages
		out = append(out, Trigger{
			Type:     Contextual,
			Subtype:  "unusual_volume",
			Strength: clamp01(0.4 + 0.1*ratio),
			Details: fmt.Sprintf("%d messages in 24h against a typical %.1f",
				ctx.RecentMessages, ctx.TypicalMessages),
			Tone:     "attentive",
			Priority: PriorityMedium,
		})
	}

	if ctx.UnusualHourMsgs >= UnusualHourMin {
		out = append(out, Trigger{
			Type:     Contextual,
			Subtype:  "unusual_hours",
			Strength: 0.5,
			Details:  fmt.Sprintf("%d messages in the small hours", ctx.UnusualHourMsgs),
			Tone:     "attentive",
			Priority: PriorityMedium,
		})
	}

	if ctx.OpenQuestion {
		out = append(out, Trigger{
			Type:     Contextual,
			Subtype:  "open_thread",
			Strength: OpenThreadStrength,
			Details:  fmt.Sprintf("question left unanswered: %s", ctx.OpenQuestionText),
			Tone:     "curious",
			Priority: PriorityMedium,
		})
	}

	return out
}
