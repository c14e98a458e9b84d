// Package gateway wraps the external services the onboarding flow depends on:
// a hosted chat model and a hosted text-to-speech engine.
//
// Calls are synchronous and made exactly once. There is no retry and no
// built-in timeout; callers that need either wrap the gateway or pass a
// context with a deadline.
package gateway

import (
	"context"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

// Generation defaults.
const (
	DefaultMaxOutputTokens = 1024
	DefaultTemperature     = 0.7
)

// ModelRequest is one chat-completion call.
type ModelRequest struct {
	System          string
	Transcript      []domain.Turn
	MaxOutputTokens int
	Temperature     float64
}

// ModelResponse is the model's reply.
type ModelResponse struct {
	Text string
}

// ModelGateway produces a reply for a transcript and system instructions.
type ModelGateway interface {
	Complete(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// OutputFormatMP3 is the only audio codec requested from speech backends.
const OutputFormatMP3 = "mp3"

// Voice is a speech-engine voice profile.
type Voice struct {
	ID           string
	Engine       string
	LanguageCode string
}

// Voices holds the fixed voice profile per language.
var Voices = map[domain.Language]Voice{
	domain.LanguageFrench:  {ID: "Lea", Engine: "neural", LanguageCode: "fr-FR"},
	domain.LanguageEnglish: {ID: "Joanna", Engine: "neural", LanguageCode: "en-US"},
}

// VoiceFor returns the voice for a language, falling back to the default language.
func VoiceFor(lang domain.Language) Voice {
	if v, ok := Voices[lang]; ok {
		return v
	}
	return Voices[domain.DefaultLanguage]
}

// SpeechRequest is one text-to-speech call.
type SpeechRequest struct {
	Text   string
	Voice  Voice
	Format string
}

// SpeechGateway converts text to raw audio bytes.
type SpeechGateway interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}
