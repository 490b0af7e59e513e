// Package intent maps recognized speech to a closed set of intents using exact
// substring matches, and binds each prompting intent to a persona prompt.
package intent

import "strings"

type Intent int

const (
	None Intent = iota
	MissionRequest
	GuidanceRequest
	GenericTrigger
	Terminate
)

func (i Intent) String() string {
	switch i {
	case MissionRequest:
		return "MISSION_REQUEST"
	case GuidanceRequest:
		return "GUIDANCE_REQUEST"
	case GenericTrigger:
		return "GENERIC_TRIGGER"
	case Terminate:
		return "TERMINATE"
	default:
		return "NONE"
	}
}

// Prompted reports whether the intent starts a completion turn.
func (i Intent) Prompted() bool {
	switch i {
	case MissionRequest, GuidanceRequest, GenericTrigger:
		return true
	}
	return false
}

const (
	PhraseMission   = "give me my mission"
	PhraseGuidance  = "what do i do"
	PhraseValorant  = "valor and"
	PhraseTerminate = "terminate"

	// marker is prepended to recognized text by chat-style front ends.
	marker = "!"
)

var triggerPhrases = []string{PhraseMission, PhraseGuidance, PhraseValorant}

// Normalize trims and lowercases text and strips a leading marker.
func Normalize(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.TrimPrefix(text, marker)
	return strings.TrimSpace(text)
}

// IsTerminate checks the raw utterance for the termination phrase.
func IsTerminate(raw string) bool {
	return strings.Contains(strings.ToLower(raw), PhraseTerminate)
}

// IsTrigger reports whether normalized text contains any trigger phrase.
func IsTrigger(text string) bool {
	for _, phrase := range triggerPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// Classify expects normalized text. Termination is decided by the caller
// before classification.
func Classify(text string) Intent {
	switch {
	case strings.Contains(text, PhraseMission):
		return MissionRequest
	case strings.Contains(text, PhraseGuidance):
		return GuidanceRequest
	case IsTrigger(text):
		return GenericTrigger
	default:
		return None
	}
}
