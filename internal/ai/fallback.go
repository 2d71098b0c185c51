package ai

// Static lines used when every generation backend fails. Keyed by trigger
// subtype first, then trigger type, so a failed call never aborts a trigger.
var fallbackBySubtype = map[string]string{
	"loneliness":          "I've been thinking about you. How have you been?",
	"sadness":             "Hey, just checking in. I hope today is treating you gently.",
	"sadness_loneliness":  "It's been quiet, and I wanted you to know I'm here.",
	"fear":                "I know things felt heavy last time. I'm around if you want to talk.",
	"emotional_conflict":  "A lot of mixed feelings lately. Want to sort through them together?",
	"unresolved_conflict": "I keep coming back to our last conversation. Can we clear the air?",
	"unmentioned_event":   "Something came up that I've been meaning to tell you about.",
	"open_thread":         "You asked me something earlier and I never got to answer properly.",
	"weekend_checkin":     "Happy weekend! What are you up to?",
}

var fallbackByType = map[string]string{
	"emotional":  "I was just thinking about you and wanted to say hi.",
	"social":     "There's something I've been meaning to catch you up on.",
	"temporal":   "It's been a while. How are things?",
	"contextual": "I noticed things have been a bit different lately. Everything okay?",
}

// FallbackText returns the static message for a trigger, never empty.
func FallbackText(triggerType, subtype string) string {
	if s, ok := fallbackBySubtype[subtype]; ok {
		return s
	}
	if s, ok := fallbackByType[triggerType]; ok {
		return s
	}
	return "Hey, just wanted to check in on you."
}
