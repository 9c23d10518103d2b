package persona

import (
	"fmt"
	"strings"
	"unicode"
)

// Default guard ceilings, applied when the corresponding rule is zero.
const (
	DefaultMaxLength   = 280
	DefaultMaxHashtags = 3
	DefaultMaxEmoji    = 4
)

// Guard validates candidate text against persona rules. Validation is
// pure and deterministic; a Guard is safe to share across goroutines.
type Guard struct {
	maxLength   int
	maxHashtags int
	maxEmoji    int
	banned      []string // lowercased
	openers     []string // lowercased
}

// Report is the outcome of one validation pass. Every violated rule
// contributes an issue; callers see the full list, not just the first.
type Report struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// NewGuard builds a Guard from rules, filling zero limits with defaults.
func NewGuard(rules GuardRules) Guard {
	g := Guard{
		maxLength:   rules.MaxLength,
		maxHashtags: rules.MaxHashtags,
		maxEmoji:    rules.MaxEmoji,
	}
	if g.maxLength <= 0 {
		g.maxLength = DefaultMaxLength
	}
	if g.maxHashtags <= 0 {
		g.maxHashtags = DefaultMaxHashtags
	}
	if g.maxEmoji <= 0 {
		g.maxEmoji = DefaultMaxEmoji
	}
	for _, p := range rules.BannedPhrases {
		if p = strings.TrimSpace(p); p != "" {
			g.banned = append(g.banned, strings.ToLower(p))
		}
	}
	for _, o := range rules.FormulaicOpeners {
		if o = strings.TrimSpace(o); o != "" {
			g.openers = append(g.openers, strings.ToLower(o))
		}
	}
	return g
}

// MaxLength returns the effective rune-count ceiling, useful for
// budgeting generation prompts.
func (g Guard) MaxLength() int {
	return g.maxLength
}

// Validate checks text against every rule and returns all violations.
func (g Guard) Validate(text string) Report {
	var issues []string

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Report{Valid: false, Issues: []string{"text is empty"}}
	}

	if n := len([]rune(trimmed)); n > g.maxLength {
		issues = append(issues, fmt.Sprintf("text is %d characters, limit is %d", n, g.maxLength))
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range g.banned {
		if strings.Contains(lower, phrase) {
			issues = append(issues, fmt.Sprintf("contains banned phrase %q", phrase))
		}
	}

	for _, opener := range g.openers {
		if strings.HasPrefix(lower, opener) {
			issues = append(issues, fmt.Sprintf("starts with formulaic opener %q", opener))
			break
		}
	}

	if n := countHashtags(trimmed); n > g.maxHashtags {
		issues = append(issues, fmt.Sprintf("%d hashtags, limit is %d", n, g.maxHashtags))
	}

	if n := countEmoji(trimmed); n > g.maxEmoji {
		issues = append(issues, fmt.Sprintf("%d emoji, limit is %d", n, g.maxEmoji))
	}

	return Report{Valid: len(issues) == 0, Issues: issues}
}

// countHashtags counts '#' immediately followed by a letter or digit.
func countHashtags(text string) int {
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if r != '#' || i+1 >= len(runes) {
			continue
		}
		next := runes[i+1]
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			count++
		}
	}
	return count
}

// emojiTable covers the common emoji blocks: misc symbols, dingbats,
// emoticons, pictographs, transport, and the supplemental planes.
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2600, Hi: 0x26FF, Stride: 1},
		{Lo: 0x2700, Hi: 0x27BF, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1F300, Hi: 0x1F5FF, Stride: 1},
		{Lo: 0x1F600, Hi: 0x1F64F, Stride: 1},
		{Lo: 0x1F680, Hi: 0x1F6FF, Stride: 1},
		{Lo: 0x1F900, Hi: 0x1F9FF, Stride: 1},
		{Lo: 0x1FA70, Hi: 0x1FAFF, Stride: 1},
	},
}

// countEmoji counts runes falling inside the emoji blocks. Modifier and
// joiner sequences count each visible component; the ceiling is a style
// bound, not a grapheme-accurate census.
func countEmoji(text string) int {
	count := 0
	for _, r := range text {
		if unicode.Is(emojiTable, r) {
			count++
		}
	}
	return count
}
