// Package decision defines model-routing tiers and the request/result
// pair exchanged with the router.
package decision

// Tier selects which intelligence class evaluates a request. Higher tiers
// cost more and are reserved for content generation.
type Tier string

const (
	TierFast  Tier = "fast"
	TierMid   Tier = "mid"
	TierSmart Tier = "smart"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFast || t == TierMid || t == TierSmart
}

// Tiers lists all tiers from cheapest to most capable.
func Tiers() []Tier {
	return []Tier{TierFast, TierMid, TierSmart}
}

// Kind distinguishes the two shapes of routed work: a numeric relevance
// score or generated text.
type Kind string

const (
	KindScore    Kind = "score"
	KindGenerate Kind = "generate"
)

// Request is a transient routing request. It carries no identity; the
// router it is handed to is already bound to one account.
type Request struct {
	Tier        Tier
	Kind        Kind
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Result is what a routed request produces. Succeeded is false when the
// router fell back to its graceful default after exhausting retries; the
// caller still gets a usable Score or Text and must not treat the
// degradation as an error.
type Result struct {
	Tier      Tier
	Kind      Kind
	Model     string
	Text      string
	Score     int // populated for KindScore, range [0,100]
	TokensIn  int64
	TokensOut int64
	Succeeded bool
	Cached    bool
}
