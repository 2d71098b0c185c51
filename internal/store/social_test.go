package store

import (
	"testing"
	"time"
)

func TestSocialBacklog(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialInteraction, Summary: "chat"}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	n, err := s.CountUnprocessed("e1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 unprocessed, got %d", n)
	}

	if err := s.MarkProcessed("e1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	n, _ = s.CountUnprocessed("e1")
	if n != 0 {
		t.Fatalf("expected 0 after processing, got %d", n)
	}
}

func TestUnresolvedConflicts(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	if _, err := s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialConflict, Summary: "argument", CreatedAt: old}); err != nil {
		t.Fatalf("add old conflict: %v", err)
	}
	if _, err := s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialConflict, Summary: "fresh spat"}); err != nil {
		t.Fatalf("add fresh conflict: %v", err)
	}
	if _, err := s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialConflict, Summary: "settled", Resolved: true, CreatedAt: old}); err != nil {
		t.Fatalf("add resolved conflict: %v", err)
	}

	got, err := s.UnresolvedConflicts("e1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 aged unresolved conflict, got %d", len(got))
	}
	if got[0].Summary != "argument" {
		t.Fatalf("wrong conflict: %s", got[0].Summary)
	}
}

func TestUnmentionedEvents(t *testing.T) {
	s := newTestStore(t)
	big, _ := s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialEvent, Summary: "promotion", Importance: 0.9})
	s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialEvent, Summary: "minor thing", Importance: 0.3})
	s.AddSocialItem(SocialItem{EntityID: "e1", Kind: SocialEvent, Summary: "already told", Importance: 0.95, Mentioned: true})

	got, err := s.UnmentionedEvents("e1", 0.7)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID != big {
		t.Fatalf("expected %s, got %s", big, got[0].ID)
	}

	if err := s.MarkMentioned(big); err != nil {
		t.Fatalf("mark mentioned: %v", err)
	}
	got, _ = s.UnmentionedEvents("e1", 0.7)
	if len(got) != 0 {
		t.Fatalf("expected none after mention, got %d", len(got))
	}

	if err := s.MarkMentioned("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecayLogSamples(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	entries := []DecayEntry{
		{SessionID: "s1", EntityID: "e1", Channel: "loneliness", OldValue: 0.5, NewValue: 0.6, AppliedAt: now.Add(-3 * time.Hour)},
		{SessionID: "s1", EntityID: "e1", Channel: "loneliness", OldValue: 0.6, NewValue: 0.7, AppliedAt: now.Add(-2 * time.Hour)},
		{SessionID: "s1", EntityID: "e1", Channel: "sadness", OldValue: 0.5, NewValue: 0.6, AppliedAt: now.Add(-2 * time.Hour)},
		{SessionID: "s1", EntityID: "e1", Channel: "loneliness", OldValue: 0.4, NewValue: 0.5, AppliedAt: now.Add(-48 * time.Hour)},
	}
	if err := s.AppendDecayEntries(entries); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.ChannelSamples("s1", "loneliness", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples inside window, got %d", len(got))
	}
	if got[0] != 0.6 || got[1] != 0.7 {
		t.Fatalf("samples out of order: %v", got)
	}

	n, err := s.PruneDecayLog(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
}

func TestSettingsDefaultsAndUpsert(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetSettings("e1")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if st.MaxMessagesPerDay != DefaultDailyCap {
		t.Fatalf("expected default cap %d, got %d", DefaultDailyCap, st.MaxMessagesPerDay)
	}
	if st.AnalysisCooldown != DefaultAnalysisCooldown {
		t.Fatalf("expected default cooldown, got %v", st.AnalysisCooldown)
	}
	if got := st.Sensitivity("emotional"); got != DefaultSensitivity {
		t.Fatalf("expected default sensitivity, got %v", got)
	}

	st.Sensitivities = map[string]float64{"emotional": 0.3, "temporal": 0.9}
	st.MaxMessagesPerDay = 1
	st.AnalysisCooldown = 2 * time.Hour
	if err := s.SaveSettings(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetSettings("e1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.MaxMessagesPerDay != 1 || got.AnalysisCooldown != 2*time.Hour {
		t.Fatalf("settings not persisted: %+v", got)
	}
	if got.Sensitivity("emotional") != 0.3 {
		t.Fatalf("expected 0.3 emotional sensitivity, got %v", got.Sensitivity("emotional"))
	}
	if got.Sensitivity("social") != DefaultSensitivity {
		t.Fatalf("unset type should fall back to default, got %v", got.Sensitivity("social"))
	}

	// Upsert overwrites.
	got.MaxMessagesPerDay = 5
	if err := s.SaveSettings(got); err != nil {
		t.Fatalf("second save: %v", err)
	}
	again, _ := s.GetSettings("e1")
	if again.MaxMessagesPerDay != 5 {
		t.Fatalf("upsert did not overwrite, got %d", again.MaxMessagesPerDay)
	}
}

func TestSettingsConfiguredDefaults(t *testing.T) {
	s := newTestStore(t)
	s.SetSettingsDefaults(1, 2*time.Hour)

	// Entities without a settings row see the configured defaults.
	st, err := s.GetSettings("e1")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if st.MaxMessagesPerDay != 1 {
		t.Fatalf("configured cap ignored, got %d", st.MaxMessagesPerDay)
	}
	if st.AnalysisCooldown != 2*time.Hour {
		t.Fatalf("configured cooldown ignored, got %v", st.AnalysisCooldown)
	}

	// An explicit row still wins over the configured defaults.
	if err := s.SaveSettings(Settings{EntityID: "e2", MaxMessagesPerDay: 7, AnalysisCooldown: time.Hour}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := s.GetSettings("e2")
	if got.MaxMessagesPerDay != 7 || got.AnalysisCooldown != time.Hour {
		t.Fatalf("explicit row lost to defaults: %+v", got)
	}

	// Non-positive values keep whatever is in effect.
	s.SetSettingsDefaults(0, 0)
	st, _ = s.GetSettings("e1")
	if st.MaxMessagesPerDay != 1 || st.AnalysisCooldown != 2*time.Hour {
		t.Fatalf("zero values clobbered the defaults: %+v", st)
	}
}
