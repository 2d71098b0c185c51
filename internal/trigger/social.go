package trigger

import (
	"fmt"
	"time"
)

// BacklogStep is how much each unprocessed interaction adds to strength.
const BacklogStep = 0.2

// ConflictFreshness is how old an unresolved conflict must be before it
// warrants reaching out.
const ConflictFreshness = 24 * time.Hour

// EventMinImportance filters which unmentioned events count.
const EventMinImportance = 0.7

func detectSocial(ctx Context) []Trigger {
	var out []Trigger

	if ctx.SocialBacklog > 0 {
		strength := clamp01(float64(ctx.SocialBacklog) * BacklogStep)
		prio := PriorityMedium
		if ctx.SocialBacklog >= 5 {
			prio = PriorityHigh
		}
		out = append(out, Trigger{
			Type:     Social,
			Subtype:  "unprocessed_interactions",
			Strength: strength,
			Details:  fmt.Sprintf("%d unprocessed social interactions", ctx.SocialBacklog),
			Tone:     "curious",
			Priority: prio,
		})
	}

	for _, c := range ctx.Conflicts {
		if c.Age < ConflictFreshness {
			continue
		}
		out = append(out, Trigger{
			Type:     Social,
			Subtype:  "unresolved_conflict",
			Strength: 0.7,
			Details:  fmt.Sprintf("conflict unresolved for %dh: %s", int(c.Age.Hours()), c.Summary),
			Tone:     "conciliatory",
			Priority: PriorityHigh,
		})
	}

	for _, e := range ctx.Events {
		if e.Importance < EventMinImportance {
			continue
		}
		out = append(out, Trigger{
			Type:     Social,
			Subtype:  "unmentioned_event",
			Strength: clamp01(e.Importance),
			Details:  fmt.Sprintf("event not yet mentioned: %s", e.Summary),
			Tone:     "engaged",
			Priority: PriorityMedium,
		})
	}

	return out
}
