package trigger

import (
	"sort"
	"time"

	"github.com/keshon/pulse/internal/affect"
)

// Type is a detector family. Families also order tie-breaks.
type Type string

const (
	Emotional  Type = "emotional"
	Social     Type = "social"
	Temporal   Type = "temporal"
	Contextual Type = "contextual"
)

var familyRank = map[Type]int{
	Emotional:  0,
	Social:     1,
	Temporal:   2,
	Contextual: 3,
}

// Priority breaks ties between triggers of equal strength.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Trigger is a scored, transient signal proposing an autonomous outbound
// message. Produced per analysis run and discarded after ranking.
type Trigger struct {
	Type     Type
	Subtype  string
	Strength float64
	Details  string
	Tone     string
	Priority Priority
}

// Conflict is an unresolved social conflict in the backlog.
type Conflict struct {
	Summary string
	Age     time.Duration
}

// Event is a notable, not-yet-mentioned social graph event.
type Event struct {
	ID         string
	Summary    string
	Importance float64
}

// Context is everything the analysis engine looks at for one entity.
// All fields are plain values so identical input yields identical output.
type Context struct {
	EntityID string
	Now      time.Time

	Affect        affect.Vector
	Crossings     []affect.Crossing // implicit candidates reported by decay
	Samples       map[affect.Channel][]float64
	InactiveFor   time.Duration
	LastIntensity float64

	SocialBacklog int
	Conflicts     []Conflict
	Events        []Event

	RecentMessages  int
	TypicalMessages float64
	UnusualHourMsgs int

	OpenQuestion     bool
	OpenQuestionText string
}

// Analyze runs every detector family and returns all candidates ranked:
// strength descending, then priority, then family order. Scoring itself is
// fully deterministic — only downstream delivery delay is randomized.
func Analyze(ctx Context) []Trigger {
	var out []Trigger
	out = append(out, detectEmotional(ctx)...)
	out = append(out, detectSocial(ctx)...)
	out = append(out, detectTemporal(ctx)...)
	out = append(out, detectContextual(ctx)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return familyRank[out[i].Type] < familyRank[out[j].Type]
	})
	return out
}

// Winner returns the single strongest trigger. Only one is acted on per
// pass; the rest are discarded and re-derived from state next time.
func Winner(list []Trigger) (Trigger, bool) {
	if len(list) == 0 {
		return Trigger{}, false
	}
	return list[0], true
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
