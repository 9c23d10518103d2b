// Package persona defines the agent's voice and the content guard that
// keeps generated text inside that voice.
package persona

// Persona describes the character an account writes as. The fields feed
// prompt construction; GuardRules constrain what may actually be posted.
type Persona struct {
	Name      string     `json:"name" yaml:"name"`
	Bio       string     `json:"bio" yaml:"bio"`
	Tone      string     `json:"tone" yaml:"tone"`
	Interests []string   `json:"interests" yaml:"interests"`
	Guard     GuardRules `json:"guard" yaml:"guard"`
}

// GuardRules holds the per-persona validation limits. Zero values mean
// "use the default" and are normalized by NewGuard.
type GuardRules struct {
	MaxLength        int      `json:"max_length" yaml:"max_length"`
	MaxHashtags      int      `json:"max_hashtags" yaml:"max_hashtags"`
	MaxEmoji         int      `json:"max_emoji" yaml:"max_emoji"`
	BannedPhrases    []string `json:"banned_phrases" yaml:"banned_phrases"`
	FormulaicOpeners []string `json:"formulaic_openers" yaml:"formulaic_openers"`
}
