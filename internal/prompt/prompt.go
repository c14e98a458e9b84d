// Package prompt composes the system instructions sent to the model on every turn.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/knowledge"
)

// PathSeparator joins stage names into the visible progression path.
const PathSeparator = " → "

// DefaultMaxSentences caps the length of every reply.
const DefaultMaxSentences = "1-2"

// Input is everything the composed instructions depend on.
type Input struct {
	RoleKind domain.RoleKind
	Language domain.Language
	Stage    string
	Profile  domain.Profile
	Stages   []string
}

// Composer renders instructions from the embedded prompt templates.
// It holds no per-session state, so one Composer can serve every session.
type Composer struct {
	res     *knowledge.Resources
	persona string
}

// NewComposer creates a composer. An empty persona falls back to the resource default.
func NewComposer(res *knowledge.Resources, persona string) *Composer {
	if persona == "" {
		persona = res.Persona()
	}
	return &Composer{res: res, persona: persona}
}

// Persona returns the assistant name used in prompts.
func (c *Composer) Persona() string {
	return c.persona
}

// Build returns the instruction text for the given session state.
func (c *Composer) Build(in Input) (string, error) {
	tmpl, ok := c.res.PromptTemplate(in.Language)
	if !ok {
		return "", fmt.Errorf("prompt: no template for language %q", in.Language)
	}

	profile, err := RenderProfile(in.Profile)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	err = tmpl.Execute(&b, map[string]string{
		"Persona":      c.persona,
		"RoleLabel":    c.res.RoleLabel(in.RoleKind, in.Language),
		"Stage":        in.Stage,
		"Profile":      profile,
		"Path":         strings.Join(in.Stages, PathSeparator),
		"Knowledge":    c.res.KnowledgeBase(),
		"MaxSentences": DefaultMaxSentences,
	})
	if err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}
	return b.String(), nil
}

// RenderProfile serializes a profile as indented JSON. Non-ASCII text is kept
// as is and keys are sorted, so the output is stable for equal profiles.
func RenderProfile(p domain.Profile) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("prompt: encode profile: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
