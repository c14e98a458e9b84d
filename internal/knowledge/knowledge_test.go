package knowledge

import (
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

func TestDefaultStageLists(t *testing.T) {
	t.Parallel()

	player := Default.Stages(domain.RoleKindPlayer)
	coach := Default.Stages(domain.RoleKindCoach)

	if len(player) != 12 {
		t.Fatalf("expected 12 player stages, got %d", len(player))
	}
	if len(coach) != 11 {
		t.Fatalf("expected 11 coach stages, got %d", len(coach))
	}
	for name, stages := range map[string][]string{"player": player, "coach": coach} {
		if stages[0] != "bienvenue" {
			t.Errorf("%s: first stage = %q", name, stages[0])
		}
		if stages[len(stages)-1] != "terminé" {
			t.Errorf("%s: terminal stage = %q", name, stages[len(stages)-1])
		}
	}

	// Callers must not be able to mutate the shared list.
	player[0] = "mutated"
	if Default.Stages(domain.RoleKindPlayer)[0] != "bienvenue" {
		t.Fatal("Stages returned shared storage")
	}
}

func TestGreetingIsLocalizedPerRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind domain.RoleKind
		lang domain.Language
		want string
	}{
		{domain.RoleKindPlayer, domain.LanguageFrench, "Comment tu t'appelles et quel âge tu as?"},
		{domain.RoleKindCoach, domain.LanguageFrench, "Ton nom et le nom de ton club?"},
		{domain.RoleKindPlayer, domain.LanguageEnglish, "What's your name and age?"},
		{domain.RoleKindCoach, domain.LanguageEnglish, "Your name and club name?"},
	}
	for _, tt := range tests {
		got, err := Default.Greeting(tt.kind, tt.lang, "Ace")
		if err != nil {
			t.Fatalf("Greeting(%s, %s): %v", tt.kind, tt.lang, err)
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("Greeting(%s, %s) = %q, want it to contain %q", tt.kind, tt.lang, got, tt.want)
		}
		if !strings.Contains(got, "Ace") {
			t.Errorf("Greeting(%s, %s) does not name the persona: %q", tt.kind, tt.lang, got)
		}
	}
}

func TestApologyEmbedsDetail(t *testing.T) {
	t.Parallel()

	fr := Default.Apology(domain.LanguageFrench, "bedrock error [ThrottlingException]: slow down")
	if fr != "Désolé, une erreur s'est produite: bedrock error [ThrottlingException]: slow down" {
		t.Fatalf("unexpected french apology: %q", fr)
	}
	en := Default.Apology(domain.LanguageEnglish, "boom")
	if en != "Sorry, an error occurred: boom" {
		t.Fatalf("unexpected english apology: %q", en)
	}
}

func TestLoadRejectsIncompleteDocument(t *testing.T) {
	t.Parallel()

	_, err := Load([]byte("persona: X\nknowledge_base: kb\nstages:\n  player: [a]\n"))
	if !errors.Is(err, ErrInvalidResources) {
		t.Fatalf("expected ErrInvalidResources, got %v", err)
	}
}
