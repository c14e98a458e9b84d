package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/store"
)

type cannedModel struct{}

func (cannedModel) Complete(_ context.Context, req gateway.ModelRequest) (gateway.ModelResponse, error) {
	return gateway.ModelResponse{Text: "Merci! (" + req.Transcript[len(req.Transcript)-1].Text + ")"}, nil
}

type bytesSpeech struct{}

func (bytesSpeech) Synthesize(_ context.Context, req gateway.SpeechRequest) ([]byte, error) {
	return []byte("ID3" + req.Voice.ID), nil
}

func newChat(t *testing.T, input string, speech gateway.SpeechGateway) (*chatSession, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	ctrl, err := agent.NewController(agent.Options{
		Model:   cannedModel{},
		Speech:  speech,
		Files:   store.NewFileStore(t.TempDir()),
		OwnerID: "cli",
		Channel: "chat_cli",
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	var out bytes.Buffer
	return &chatSession{ctrl: ctrl, in: strings.NewReader(input), out: &out}, &out
}

func TestChatLoop(t *testing.T) {
	s, out := newChat(t, "Je m'appelle Léa\n\n/profile name=Léa\n/stage\n/save\nexit\nignored\n", nil)
	if _, err := s.ctrl.Begin(domain.RoleKindPlayer, domain.LanguageFrench); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Merci! (Je m'appelle Léa)", "bienvenue (1/12)", "Saved to "} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Error("input after exit should not be processed")
	}

	snap, err := s.ctrl.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Session.Transcript.Len() != 2 {
		t.Errorf("transcript len = %d, want 2 (blank line skipped)", snap.Session.Transcript.Len())
	}
	if snap.Session.Profile["name"] != "Léa" {
		t.Errorf("profile = %v", snap.Session.Profile)
	}
}

func TestChatWritesAudio(t *testing.T) {
	s, _ := newChat(t, "", bytesSpeech{})
	s.audioDir = t.TempDir()

	greeting, err := s.ctrl.Begin(domain.RoleKindCoach, domain.LanguageEnglish)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	s.printAssistant(context.Background(), greeting)

	audio, err := os.ReadFile(s.audioDir + "/" + greeting.ID + ".mp3")
	if err != nil {
		t.Fatalf("audio file missing: %v", err)
	}
	if string(audio) != "ID3Joanna" {
		t.Errorf("unexpected audio %q", audio)
	}
}

func TestChatProfileUsage(t *testing.T) {
	s, out := newChat(t, "/profile novalue\nquit\n", nil)
	if _, err := s.ctrl.Begin(domain.RoleKindPlayer, domain.LanguageEnglish); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := s.run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "usage: /profile key=value") {
		t.Errorf("expected usage hint, got %s", out.String())
	}
}
