package trigger

import (
	"fmt"
	"time"
)

// IntenseSilenceMin is the inactivity before "silence after an intense
// exchange" starts to matter.
const IntenseSilenceMin = 12 * time.Hour

// IntenseSilenceSpan is where the inactivity fraction saturates at 1.0.
const IntenseSilenceSpan = 72 * time.Hour

// WeekendCheckinStrength keeps periodic check-ins deliberately weak so they
// only win when nothing else is going on.
const WeekendCheckinStrength = 0.3

func detectTemporal(ctx Context) []Trigger {
	var out []Trigger

	if ctx.InactiveFor >= IntenseSilenceMin && ctx.LastIntensity > 0 {
		frac := clamp01(float64(ctx.InactiveFor) / float64(IntenseSilenceSpan))
		strength := clamp01(frac * ctx.LastIntensity)
		if strength > 0 {
			out = append(out, Trigger{
				Type:     Temporal,
				Subtype:  "silence_after_intensity",
				Strength: strength,
				Details: fmt.Sprintf("quiet for %dh after an exchange of intensity %.2f",
					int(ctx.InactiveFor.Hours()), ctx.LastIntensity),
				Tone:     "warm",
				Priority: PriorityMedium,
			})
		}
	}

	if wd := ctx.Now.Weekday(); (wd == time.Saturday || wd == time.Sunday) && ctx.InactiveFor >= 24*time.Hour {
		out = append(out, Trigger{
			Type:     Temporal,
			Subtype:  "weekend_checkin",
			Strength: WeekendCheckinStrength,
			Details:  fmt.Sprintf("weekend and quiet for %dh", int(ctx.InactiveFor.Hours())),
			Tone:     "casual",
			Priority: PriorityLow,
		})
	}

	return out
}
