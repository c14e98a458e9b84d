// Package knowledge holds the constant resources of the onboarding flow: stage
// lists, greetings, apology strings, prompt templates and the knowledge base.
// They are embedded in the binary and parsed once at process start.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/tennis-onboard/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed resources.yaml
var embedded []byte

// ErrInvalidResources is returned when a resource document is incomplete.
var ErrInvalidResources = errors.New("knowledge: invalid resources")

// document mirrors resources.yaml.
type document struct {
	Persona       string                                         `yaml:"persona"`
	Stages        map[domain.RoleKind][]string                   `yaml:"stages"`
	RoleLabels    map[domain.Language]map[domain.RoleKind]string `yaml:"role_labels"`
	Greetings     map[domain.Language]map[domain.RoleKind]string `yaml:"greetings"`
	Apologies     map[domain.Language]string                     `yaml:"apologies"`
	Prompts       map[domain.Language]string                     `yaml:"prompts"`
	KnowledgeBase string                                         `yaml:"knowledge_base"`
}

// Resources is the parsed, immutable resource set.
type Resources struct {
	persona       string
	stages        map[domain.RoleKind][]string
	roleLabels    map[domain.Language]map[domain.RoleKind]string
	greetings     map[domain.Language]map[domain.RoleKind]*template.Template
	apologies     map[domain.Language]*template.Template
	prompts       map[domain.Language]*template.Template
	knowledgeBase string
}

var (
	roleKinds = []domain.RoleKind{domain.RoleKindPlayer, domain.RoleKindCoach}
	languages = []domain.Language{domain.LanguageFrench, domain.LanguageEnglish}
)

// Default is the resource set embedded in the binary.
var Default = mustLoad(embedded)

func mustLoad(data []byte) *Resources {
	res, err := Load(data)
	if err != nil {
		panic(err)
	}
	return res
}

// Load parses a resource document and compiles its templates.
func Load(data []byte) (*Resources, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("knowledge: parse resources: %w", err)
	}

	res := &Resources{
		persona:       doc.Persona,
		stages:        doc.Stages,
		roleLabels:    doc.RoleLabels,
		greetings:     make(map[domain.Language]map[domain.RoleKind]*template.Template),
		apologies:     make(map[domain.Language]*template.Template),
		prompts:       make(map[domain.Language]*template.Template),
		knowledgeBase: strings.TrimSpace(doc.KnowledgeBase),
	}
	if res.persona == "" {
		return nil, fmt.Errorf("%w: persona is empty", ErrInvalidResources)
	}
	if res.knowledgeBase == "" {
		return nil, fmt.Errorf("%w: knowledge_base is empty", ErrInvalidResources)
	}

	for _, kind := range roleKinds {
		if len(doc.Stages[kind]) < 2 {
			return nil, fmt.Errorf("%w: %s needs at least two stages", ErrInvalidResources, kind)
		}
	}

	for _, lang := range languages {
		res.greetings[lang] = make(map[domain.RoleKind]*template.Template)
		for _, kind := range roleKinds {
			if doc.RoleLabels[lang][kind] == "" {
				return nil, fmt.Errorf("%w: missing %s role label for %s", ErrInvalidResources, lang, kind)
			}
			tmpl, err := parse(fmt.Sprintf("greeting.%s.%s", lang, kind), doc.Greetings[lang][kind])
			if err != nil {
				return nil, err
			}
			res.greetings[lang][kind] = tmpl
		}

		apology, err := parse("apology."+string(lang), doc.Apologies[lang])
		if err != nil {
			return nil, err
		}
		res.apologies[lang] = apology

		prompt, err := parse("prompt."+string(lang), doc.Prompts[lang])
		if err != nil {
			return nil, err
		}
		res.prompts[lang] = prompt
	}

	return res, nil
}

func parse(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidResources, name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidResources, name, err)
	}
	return tmpl, nil
}

// Persona returns the default assistant name.
func (r *Resources) Persona() string {
	return r.persona
}

// KnowledgeBase returns the static reference text embedded in every prompt.
func (r *Resources) KnowledgeBase() string {
	return r.knowledgeBase
}

// Stages returns a copy of the ordered stage list for a role kind.
func (r *Resources) Stages(kind domain.RoleKind) []string {
	return append([]string(nil), r.stages[kind]...)
}

// StageLists returns copies of every role kind's stage list.
func (r *Resources) StageLists() map[domain.RoleKind][]string {
	out := make(map[domain.RoleKind][]string, len(r.stages))
	for kind := range r.stages {
		out[kind] = r.Stages(kind)
	}
	return out
}

// RoleLabel returns the localized display name of a role kind.
func (r *Resources) RoleLabel(kind domain.RoleKind, lang domain.Language) string {
	return r.roleLabels[lang][kind]
}

// PromptTemplate returns the compiled system prompt template for a language.
func (r *Resources) PromptTemplate(lang domain.Language) (*template.Template, bool) {
	tmpl, ok := r.prompts[lang]
	return tmpl, ok
}

// Greeting renders the static welcome message for a role and language.
func (r *Resources) Greeting(kind domain.RoleKind, lang domain.Language, persona string) (string, error) {
	tmpl, ok := r.greetings[lang][kind]
	if !ok {
		return "", fmt.Errorf("knowledge: no greeting for %s/%s", lang, kind)
	}
	return render(tmpl, map[string]string{"Persona": persona})
}

// Apology renders the localized failure message embedding detail.
func (r *Resources) Apology(lang domain.Language, detail string) string {
	tmpl, ok := r.apologies[lang]
	if !ok {
		tmpl = r.apologies[domain.DefaultLanguage]
	}
	text, err := render(tmpl, map[string]string{"Detail": detail})
	if err != nil {
		return detail
	}
	return text
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("knowledge: render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
