package persona

import (
	"strings"
	"testing"
)

func TestGuardAcceptsPlainText(t *testing.T) {
	g := NewGuard(GuardRules{})
	rep := g.Validate("Spent the evening reading about tidal power. The engineering is wild.")
	if !rep.Valid {
		t.Fatalf("expected valid, got issues %v", rep.Issues)
	}
	if len(rep.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", rep.Issues)
	}
}

func TestGuardEmptyText(t *testing.T) {
	g := NewGuard(GuardRules{})

	for _, text := range []string{"", "   ", "\n\t"} {
		rep := g.Validate(text)
		if rep.Valid {
			t.Errorf("expected %q to be invalid", text)
		}
		if len(rep.Issues) != 1 {
			t.Errorf("expected exactly one issue for empty text, got %v", rep.Issues)
		}
	}
}

func TestGuardLengthLimit(t *testing.T) {
	g := NewGuard(GuardRules{MaxLength: 20})

	rep := g.Validate("this text is definitely longer than twenty characters")
	if rep.Valid {
		t.Fatal("expected invalid")
	}
	if len(rep.Issues) != 1 || !strings.Contains(rep.Issues[0], "limit is 20") {
		t.Fatalf("unexpected issues %v", rep.Issues)
	}

	// Rune count, not byte count.
	g2 := NewGuard(GuardRules{MaxLength: 4})
	if rep := g2.Validate("čtyři"); rep.Valid {
		t.Error("expected 5 runes to exceed limit 4")
	}
	if rep := g2.Validate("čtyř"); !rep.Valid {
		t.Errorf("expected 4 runes to pass limit 4, got %v", rep.Issues)
	}
}

func TestGuardBannedPhrases(t *testing.T) {
	g := NewGuard(GuardRules{
		BannedPhrases: []string{"as an ai", "delve"},
	})

	rep := g.Validate("Let me DELVE into this topic, as an AI I find it fascinating")
	if rep.Valid {
		t.Fatal("expected invalid")
	}
	// One issue per banned phrase found, matched case-insensitively.
	if len(rep.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", rep.Issues)
	}
}

func TestGuardFormulaicOpener(t *testing.T) {
	g := NewGuard(GuardRules{
		FormulaicOpeners: []string{"great point!", "interesting thread"},
	})

	rep := g.Validate("Great point! I was thinking the same thing.")
	if rep.Valid {
		t.Fatal("expected invalid")
	}
	if len(rep.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", rep.Issues)
	}

	// The phrase mid-text is fine; only the opening position matters.
	rep = g.Validate("She made a great point! about the design.")
	if !rep.Valid {
		t.Fatalf("expected valid, got %v", rep.Issues)
	}
}

func TestGuardHashtagLimit(t *testing.T) {
	g := NewGuard(GuardRules{}) // default limit 3

	rep := g.Validate("launch day #go #infra #oss")
	if !rep.Valid {
		t.Fatalf("expected 3 hashtags to pass, got %v", rep.Issues)
	}

	rep = g.Validate("launch day #go #infra #oss #dev")
	if rep.Valid {
		t.Fatal("expected 4 hashtags to fail")
	}

	// A bare '#' with no word attached is not a hashtag.
	rep = g.Validate("item # 4 on the list # #")
	if !rep.Valid {
		t.Fatalf("expected bare hashes to pass, got %v", rep.Issues)
	}
}

func TestGuardEmojiLimit(t *testing.T) {
	g := NewGuard(GuardRules{}) // default limit 4

	rep := g.Validate("shipped it \U0001F680\U0001F389\U0001F525\U0001F44D")
	if !rep.Valid {
		t.Fatalf("expected 4 emoji to pass, got %v", rep.Issues)
	}

	rep = g.Validate("shipped it \U0001F680\U0001F389\U0001F525\U0001F44D\U0001F60D")
	if rep.Valid {
		t.Fatal("expected 5 emoji to fail")
	}
}

func TestGuardCollectsAllIssues(t *testing.T) {
	g := NewGuard(GuardRules{
		BannedPhrases: []string{"game changer"},
	})

	// Four hashtags and a banned phrase: both must be reported.
	rep := g.Validate("This is a game changer #ai #tech #future #now")
	if rep.Valid {
		t.Fatal("expected invalid")
	}
	if len(rep.Issues) < 2 {
		t.Fatalf("expected at least 2 issues, got %v", rep.Issues)
	}
}

func TestGuardDeterministic(t *testing.T) {
	g := NewGuard(GuardRules{BannedPhrases: []string{"synergy"}})
	text := "Unlocking synergy across teams #one #two #three #four"

	first := g.Validate(text)
	for i := 0; i < 10; i++ {
		again := g.Validate(text)
		if again.Valid != first.Valid || len(again.Issues) != len(first.Issues) {
			t.Fatal("validation is not deterministic")
		}
	}
}

func TestNewGuardDefaults(t *testing.T) {
	g := NewGuard(GuardRules{})
	if g.maxLength != DefaultMaxLength {
		t.Errorf("expected default max length %d, got %d", DefaultMaxLength, g.maxLength)
	}
	if g.maxHashtags != DefaultMaxHashtags {
		t.Errorf("expected default max hashtags %d, got %d", DefaultMaxHashtags, g.maxHashtags)
	}
	if g.maxEmoji != DefaultMaxEmoji {
		t.Errorf("expected default max emoji %d, got %d", DefaultMaxEmoji, g.maxEmoji)
	}
}
