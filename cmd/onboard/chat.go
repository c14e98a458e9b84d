package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/identity"
)

var (
	chatRole     string
	chatLanguage string
	chatResume   string
	chatAudioDir string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume an onboarding conversation",
	Long: `Start an onboarding conversation as a player or a coach.

Inside the conversation:
  /save              - save the session to the sessions directory
  /profile key=value - set a profile field (empty value removes it)
  /stage             - show the current stage
  exit, quit         - leave the conversation`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatRole, "role", "r", "player", "Role of the user: player or coach")
	chatCmd.Flags().StringVarP(&chatLanguage, "lang", "l", "", "Conversation language: fr or en (default from DEFAULT_LANGUAGE)")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a saved session file")
	chatCmd.Flags().StringVar(&chatAudioDir, "audio-dir", "", "Write spoken replies as MP3 files into this directory")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctrl, err := deps.NewController(identity.CLIUserID(), "chat_cli")
	if err != nil {
		return err
	}

	s := &chatSession{
		ctrl:     ctrl,
		in:       os.Stdin,
		out:      cmd.OutOrStdout(),
		audioDir: chatAudioDir,
	}

	if chatResume != "" {
		if err := ctrl.Load(ctx, chatResume); err != nil {
			return fmt.Errorf("resume %s: %w", chatResume, err)
		}
		return s.run(ctx)
	}

	kind, err := domain.ParseRoleKind(chatRole)
	if err != nil {
		return err
	}
	lang := deps.Config.DefaultLanguage
	if chatLanguage != "" {
		if lang, err = domain.ParseLanguage(chatLanguage); err != nil {
			return err
		}
	}
	greeting, err := ctrl.Begin(kind, lang)
	if err != nil {
		return err
	}
	s.printAssistant(ctx, greeting)
	return s.run(ctx)
}

// chatSession drives a controller from a line-oriented terminal.
type chatSession struct {
	ctrl     *agent.Controller
	in       io.Reader
	out      io.Writer
	audioDir string
}

var (
	youLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	coachLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	stageLabel = color.New(color.FgYellow).SprintFunc()
	errorLabel = color.New(color.FgRed).SprintFunc()
)

func (s *chatSession) run(ctx context.Context) error {
	if snap, err := s.ctrl.Snapshot(); err == nil {
		fmt.Fprintf(s.out, "%s %s (%d/%d)\n\n", stageLabel("Stage:"), snap.Session.Stage, snap.StageIndex+1, len(snap.Stages))
	}

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, youLabel("You: "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "exit" || line == "quit":
			return nil
		case line == "/save":
			s.save(ctx)
			continue
		case line == "/stage":
			s.printStage()
			continue
		case strings.HasPrefix(line, "/profile "):
			s.setProfile(strings.TrimPrefix(line, "/profile "))
			continue
		}

		res, err := s.ctrl.Turn(ctx, line)
		if err != nil {
			return err
		}
		if res.Skipped {
			continue
		}
		s.printAssistant(ctx, domain.Turn{ID: res.MessageID, Role: domain.RoleAssistant, Text: res.Text})
		if res.Advanced {
			fmt.Fprintf(s.out, "%s %s\n\n", stageLabel("Stage:"), res.Stage)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func (s *chatSession) printAssistant(ctx context.Context, turn domain.Turn) {
	fmt.Fprintf(s.out, "%s%s\n\n", coachLabel("Coach: "), turn.Text)
	if s.audioDir == "" || !s.ctrl.SpeechEnabled() || turn.ID == "" {
		return
	}
	audio, err := s.ctrl.Speak(ctx, turn.ID)
	if err != nil {
		fmt.Fprintln(s.out, errorLabel("Speech: "+err.Error()))
		return
	}
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		fmt.Fprintln(s.out, errorLabel("Speech: "+err.Error()))
		return
	}
	if err := os.WriteFile(filepath.Join(s.audioDir, turn.ID+".mp3"), audio, 0o644); err != nil {
		fmt.Fprintln(s.out, errorLabel("Speech: "+err.Error()))
	}
}

func (s *chatSession) save(ctx context.Context) {
	path, err := s.ctrl.Save(ctx)
	if err != nil {
		fmt.Fprintln(s.out, errorLabel("Save failed: "+err.Error()))
		return
	}
	fmt.Fprintf(s.out, "Saved to %s\n\n", path)
}

func (s *chatSession) printStage() {
	snap, err := s.ctrl.Snapshot()
	if err != nil {
		fmt.Fprintln(s.out, errorLabel(err.Error()))
		return
	}
	fmt.Fprintf(s.out, "%s %s (%d/%d)\n\n", stageLabel("Stage:"), snap.Session.Stage, snap.StageIndex+1, len(snap.Stages))
}

func (s *chatSession) setProfile(arg string) {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		fmt.Fprintln(s.out, errorLabel("usage: /profile key=value"))
		return
	}
	var v any = strings.TrimSpace(value)
	if v == "" {
		v = nil
	}
	if err := s.ctrl.UpdateProfile(map[string]any{key: v}); err != nil {
		if errors.Is(err, agent.ErrNoSession) {
			fmt.Fprintln(s.out, errorLabel("no session"))
			return
		}
		fmt.Fprintln(s.out, errorLabel(err.Error()))
	}
}
