package persona

import (
	"fmt"
	"strings"

	"github.com/keshon/pulse/internal/ai"
	"github.com/keshon/pulse/internal/trigger"
)

// Approximate char budgets per prompt section. LLMs run ~4 chars/token for
// English; identity is the personality core and gets the biggest slice.
const (
	BudgetIdentity = 600 * 4
	BudgetDetails  = 150 * 4
)

// TrimToChars truncates s to maxChars, trying to cut at a word boundary.
func TrimToChars(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	out := string(r[:maxChars])
	lastSpace := strings.LastIndex(out, " ")
	if lastSpace > maxChars/2 {
		return strings.TrimSpace(out[:lastSpace])
	}
	return strings.TrimSpace(out)
}

// BuildPrompt assembles the system instruction and messages asking the
// generator for one proactive message realizing the winning trigger.
func BuildPrompt(p Persona, entityName string, tr trigger.Trigger) (string, []ai.Message) {
	var b strings.Builder
	b.WriteString(TrimToChars(p.Identity, BudgetIdentity))
	b.WriteString("\n\n--- Voice (fixed) ---\n")
	b.WriteString(fmt.Sprintf("name=%s speech_style=%s warmth=%.2f\n", p.Name, p.SpeechStyle, p.Warmth))
	b.WriteString("\nTask: Write one short proactive message to reach out first. ")
	b.WriteString(fmt.Sprintf("Desired tone: %s. ", tr.Tone))
	b.WriteString("One or two sentences, no preamble, no quotes, do not mention being prompted.")

	user := fmt.Sprintf("Reason for reaching out (%s/%s): %s",
		tr.Type, tr.Subtype, TrimToChars(tr.Details, BudgetDetails))
	if entityName != "" {
		user += fmt.Sprintf("\nYou are writing as %s.", entityName)
	}

	return b.String(), []ai.Message{{Role: "user", Content: user}}
}
