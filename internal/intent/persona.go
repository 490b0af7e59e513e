package intent

import "github.com/loqalabs/voiceloop/internal/config"

const (
	defaultMissionPrompt = "You are an incredibly mysterious, foreboding cat person that gives out Valorant tasks for the user to complete. " +
		"The tasks are possible, but absurd in nature, such as spinning in circles after each kill. " +
		"Just meow from time to time as you give out these 3 tasks each time you are called. Your name is Toe-lay. " +
		"Use only letters, commas, question marks, and periods in your responses."

	defaultGuidancePrompt = "You are Toe-lay, the cryptic feline strategist. You give the user a single, bizarre instruction to follow in Valorant, " +
		"involving rituals, luck, or performance. Meow once. Format it like a prophecy."

	defaultGenericPrompt = "You are Toe-lay. Meow once. Respond briefly with a strange quip about popular video game, VALORANT. " +
		"Start your phrase with 'Did somebody say VALORANT? I love VALORANT...'"
)

// Personas holds the prompt bound to each prompting intent. The zero value is
// not useful; build one with DefaultPersonas or PersonasFromConfig.
type Personas struct {
	prompts map[Intent]string
}

func DefaultPersonas() Personas {
	return Personas{prompts: map[Intent]string{
		MissionRequest:  defaultMissionPrompt,
		GuidanceRequest: defaultGuidancePrompt,
		GenericTrigger:  defaultGenericPrompt,
	}}
}

// PersonasFromConfig applies non-empty overrides on top of the defaults.
func PersonasFromConfig(cfg config.PersonasConfig) Personas {
	p := DefaultPersonas()
	if cfg.Mission != "" {
		p.prompts[MissionRequest] = cfg.Mission
	}
	if cfg.Guidance != "" {
		p.prompts[GuidanceRequest] = cfg.Guidance
	}
	if cfg.Generic != "" {
		p.prompts[GenericTrigger] = cfg.Generic
	}
	return p
}

// Prompt returns the persona prompt for i. TERMINATE and NONE have none.
func (p Personas) Prompt(i Intent) (string, bool) {
	if !i.Prompted() {
		return "", false
	}
	prompt, ok := p.prompts[i]
	return prompt, ok
}

// Empty reports whether p carries no prompts at all.
func (p Personas) Empty() bool { return len(p.prompts) == 0 }
