// Package domain contains core domain types for the onboarding service.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownRoleKind = errors.New("domain: unknown role kind")
	ErrUnknownLanguage = errors.New("domain: unknown language")
)

// RoleKind selects which onboarding track a session follows.
type RoleKind string

const (
	RoleKindPlayer RoleKind = "player"
	RoleKindCoach  RoleKind = "coach"
)

// ParseRoleKind normalizes a user-supplied role kind.
func ParseRoleKind(s string) (RoleKind, error) {
	switch RoleKind(strings.ToLower(strings.TrimSpace(s))) {
	case RoleKindPlayer:
		return RoleKindPlayer, nil
	case RoleKindCoach:
		return RoleKindCoach, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRoleKind, s)
	}
}

// Language is the language the assistant answers in.
type Language string

const (
	LanguageFrench  Language = "fr"
	LanguageEnglish Language = "en"

	DefaultLanguage = LanguageFrench
)

// ParseLanguage normalizes a user-supplied language. An empty value yields DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultLanguage, nil
	case LanguageFrench:
		return LanguageFrench, nil
	case LanguageEnglish:
		return LanguageEnglish, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
}

// Profile is free-form data accumulated about the session's subject.
// It is never schema-validated.
type Profile map[string]any

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	if p == nil {
		return Profile{}
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Profile:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		return append(json.RawMessage(nil), val...)
	default:
		return val
	}
}

// Session is the state of one onboarding conversation.
type Session struct {
	ID         string
	RoleKind   RoleKind
	Language   Language
	Stage      string
	Profile    Profile
	Transcript Transcript
	CreatedAt  time.Time
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	out := *s
	out.Profile = s.Profile.Clone()
	out.Transcript = s.Transcript.Clone()
	return &out
}
