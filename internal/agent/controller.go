// Package agent drives an onboarding conversation: it owns one session,
// forwards turns to the model gateway and moves the session through its
// stages.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/knowledge"
	"github.com/ashureev/tennis-onboard/internal/metrics"
	"github.com/ashureev/tennis-onboard/internal/prompt"
	"github.com/ashureev/tennis-onboard/internal/stage"
	"github.com/ashureev/tennis-onboard/internal/store"
)

var (
	// ErrNoSession is returned when an operation needs a session and Begin or Load was not called.
	ErrNoSession = errors.New("agent: no session begun")
	// ErrNoModel is returned by NewController without a model gateway.
	ErrNoModel = errors.New("agent: model gateway is required")
	// ErrSpeechDisabled is returned by Speak when no speech gateway is configured.
	ErrSpeechDisabled = errors.New("agent: speech disabled")
	// ErrMessageNotFound is returned by Speak for an unknown message identifier.
	ErrMessageNotFound = errors.New("agent: message not found")
	// ErrNoFileStore is returned by Save and Load without a file store.
	ErrNoFileStore = errors.New("agent: no session file store")
	// ErrInvalidSession is returned by Load when the saved stage does not belong to its role.
	ErrInvalidSession = errors.New("agent: invalid saved session")
)

// Turn outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// SessionFiles saves and restores sessions.
type SessionFiles interface {
	Save(ctx context.Context, s *domain.Session) (string, error)
	Load(ctx context.Context, location string) (*domain.Session, error)
}

// Archiver indexes saved sessions.
type Archiver interface {
	Record(ctx context.Context, e store.Entry) error
}

// Options configures a Controller.
type Options struct {
	Model     gateway.ModelGateway
	Speech    gateway.SpeechGateway
	Resources *knowledge.Resources
	Persona   string
	Files     SessionFiles
	Archive   Archiver

	// Threshold is the number of exchanges per stage.
	Threshold       int
	MaxOutputTokens int
	Temperature     float64

	OwnerID      string
	Channel      string
	Log          *slog.Logger
	Conversation ConversationLogger
	Now          func() time.Time
}

// TurnResult is what a turn produced.
type TurnResult struct {
	Text       string `json:"text"`
	MessageID  string `json:"message_id,omitempty"`
	Stage      string `json:"stage"`
	StageIndex int    `json:"stage_index"`
	Advanced   bool   `json:"advanced"`
	Failed     bool   `json:"failed"`
	Skipped    bool   `json:"skipped"`
}

// Controller holds a single onboarding session. All methods are safe for
// concurrent use; turns, saves and loads are serialized.
type Controller struct {
	model    gateway.ModelGateway
	speech   gateway.SpeechGateway
	res      *knowledge.Resources
	composer *prompt.Composer
	tracker  stage.Tracker
	files    SessionFiles
	archive  Archiver
	log      *slog.Logger
	conv     ConversationLogger
	now      func() time.Time

	maxTokens   int
	temperature float64
	ownerID     string
	channel     string

	mu         sync.Mutex
	session    *domain.Session
	greeting   domain.Turn
	cache      *gateway.SpeechCache
	lastActive time.Time
}

// NewController creates a controller with no session.
func NewController(opts Options) (*Controller, error) {
	if opts.Model == nil {
		return nil, ErrNoModel
	}
	res := opts.Resources
	if res == nil {
		res = knowledge.Default
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	conv := opts.Conversation
	if conv == nil {
		conv = noopConversationLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = gateway.DefaultMaxOutputTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = gateway.DefaultTemperature
	}
	channel := opts.Channel
	if channel == "" {
		channel = "chat_http"
	}

	c := &Controller{
		model:       opts.Model,
		speech:      opts.Speech,
		res:         res,
		composer:    prompt.NewComposer(res, opts.Persona),
		tracker:     stage.NewTracker(res.StageLists(), opts.Threshold),
		files:       opts.Files,
		archive:     opts.Archive,
		log:         log,
		conv:        conv,
		now:         now,
		maxTokens:   maxTokens,
		temperature: temperature,
		ownerID:     opts.OwnerID,
		channel:     channel,
	}
	c.lastActive = now()
	return c, nil
}

// Begin starts a fresh session at the first stage of kind and returns the
// localized greeting. The greeting is not part of the transcript.
func (c *Controller) Begin(kind domain.RoleKind, lang domain.Language) (domain.Turn, error) {
	if len(c.tracker.Stages(kind)) == 0 {
		return domain.Turn{}, fmt.Errorf("%w: %q", domain.ErrUnknownRoleKind, kind)
	}
	text, err := c.res.Greeting(kind, lang, c.composer.Persona())
	if err != nil {
		return domain.Turn{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLog()
	c.session = &domain.Session{
		ID:        uuid.NewString(),
		RoleKind:  kind,
		Language:  lang,
		Stage:     c.tracker.Initial(kind),
		Profile:   domain.Profile{},
		CreatedAt: c.now().UTC(),
	}
	c.greeting = domain.NewTurn(domain.RoleAssistant, text)
	c.resetSpeech()
	c.touch()

	c.log.Info("Onboarding session started",
		"session_id", c.session.ID,
		"role_kind", kind,
		"language", lang)
	c.logEvent("inbound", "greeting", c.greeting, "")
	return c.greeting, nil
}

// Turn handles one user message. Blank input is ignored. A failed model
// call yields a localized apology; it is never returned as an error. The
// only error is ErrNoSession.
func (c *Controller) Turn(ctx context.Context, text string) (*TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return nil, ErrNoSession
	}
	c.touch()

	if strings.TrimSpace(text) == "" {
		metrics.TurnsTotal.WithLabelValues(string(s.RoleKind), OutcomeSkipped).Inc()
		return c.result(&TurnResult{Skipped: true}), nil
	}

	user := domain.NewTurn(domain.RoleUser, text)
	s.Transcript.Append(user)
	c.logEvent("outbound", "user_message", user, "")

	reply, err := c.complete(ctx, s)
	if err != nil {
		apology := c.res.Apology(s.Language, err.Error())
		c.log.Warn("Model call failed",
			"session_id", s.ID,
			"stage", s.Stage,
			"class", gateway.Class(err),
			"error", err)
		c.logEvent("inbound", "apology", domain.Turn{Role: domain.RoleAssistant, Text: apology}, err.Error())
		metrics.TurnsTotal.WithLabelValues(string(s.RoleKind), OutcomeFailed).Inc()
		return c.result(&TurnResult{Text: apology, Failed: true}), nil
	}

	assistant := domain.NewTurn(domain.RoleAssistant, reply)
	s.Transcript.Append(assistant)
	advanced := c.tracker.MaybeAdvance(s)
	if advanced {
		metrics.StageAdvances.WithLabelValues(string(s.RoleKind), s.Stage).Inc()
		c.log.Info("Stage advanced",
			"session_id", s.ID,
			"stage", s.Stage,
			"exchanges", s.Transcript.Exchanges())
	}
	c.logEvent("inbound", "assistant_message", assistant, "")
	metrics.TurnsTotal.WithLabelValues(string(s.RoleKind), OutcomeOK).Inc()

	return c.result(&TurnResult{Text: reply, MessageID: assistant.ID, Advanced: advanced}), nil
}

func (c *Controller) complete(ctx context.Context, s *domain.Session) (string, error) {
	system, err := c.composer.Build(prompt.Input{
		RoleKind: s.RoleKind,
		Language: s.Language,
		Stage:    s.Stage,
		Profile:  s.Profile,
		Stages:   c.tracker.Stages(s.RoleKind),
	})
	if err != nil {
		return "", fmt.Errorf("compose prompt: %w", err)
	}

	resp, err := c.model.Complete(ctx, gateway.ModelRequest{
		System:          system,
		Transcript:      s.Transcript.All(),
		MaxOutputTokens: c.maxTokens,
		Temperature:     c.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Controller) result(r *TurnResult) *TurnResult {
	r.Stage = c.session.Stage
	r.StageIndex = c.tracker.Index(c.session)
	return r
}

// Save writes the session and records it in the archive when one is
// configured. It returns the saved location.
func (c *Controller) Save(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return "", ErrNoSession
	}
	if c.files == nil {
		return "", ErrNoFileStore
	}

	path, err := c.files.Save(ctx, c.session)
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	metrics.SessionsSaved.Inc()
	c.log.Info("Session saved", "session_id", c.session.ID, "path", path)

	if c.archive != nil {
		entry := store.Entry{
			SessionID: c.session.ID,
			OwnerID:   c.ownerID,
			RoleKind:  string(c.session.RoleKind),
			Language:  string(c.session.Language),
			Stage:     c.session.Stage,
			Turns:     c.session.Transcript.Len(),
			Path:      path,
			SavedAt:   c.now().UTC(),
		}
		if err := c.archive.Record(ctx, entry); err != nil {
			c.log.Warn("Failed to archive saved session",
				"session_id", c.session.ID,
				"path", path,
				"error", err)
		}
	}
	return path, nil
}

// Load replaces the current session with a saved one.
func (c *Controller) Load(ctx context.Context, location string) error {
	if c.files == nil {
		return ErrNoFileStore
	}
	s, err := c.files.Load(ctx, location)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !c.tracker.Valid(s) {
		return fmt.Errorf("%w: stage %q is not a %s stage", ErrInvalidSession, s.Stage, s.RoleKind)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.ID != s.ID {
		c.releaseLog()
	}
	c.session = s
	c.greeting = domain.Turn{}
	c.resetSpeech()
	c.touch()

	c.log.Info("Session loaded",
		"session_id", s.ID,
		"stage", s.Stage,
		"turns", s.Transcript.Len())
	return nil
}

// Speak returns audio for a greeting or assistant message. Audio is cached
// per message. The session lock is not held while synthesizing.
func (c *Controller) Speak(ctx context.Context, messageID string) ([]byte, error) {
	if c.speech == nil {
		return nil, ErrSpeechDisabled
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	turn, ok := c.session.Transcript.Find(messageID)
	if !ok && c.greeting.ID != "" && c.greeting.ID == messageID {
		turn, ok = c.greeting, true
	}
	lang := c.session.Language
	cache := c.cache
	c.touch()
	c.mu.Unlock()

	if !ok {
		return nil, ErrMessageNotFound
	}

	return cache.Get(ctx, messageID, gateway.SpeechRequest{
		Text:   turn.Text,
		Voice:  gateway.VoiceFor(lang),
		Format: gateway.OutputFormatMP3,
	})
}

// SpeechEnabled reports whether Speak can produce audio.
func (c *Controller) SpeechEnabled() bool {
	return c.speech != nil
}

// UpdateProfile merges fields into the profile. A nil value removes the key.
func (c *Controller) UpdateProfile(fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoSession
	}
	if c.session.Profile == nil {
		c.session.Profile = domain.Profile{}
	}
	for k, v := range domain.Profile(fields).Clone() {
		if v == nil {
			delete(c.session.Profile, k)
			continue
		}
		c.session.Profile[k] = v
	}
	c.touch()
	return nil
}

// Snapshot is a read-only copy of the session for rendering.
type Snapshot struct {
	Session    *domain.Session
	Greeting   domain.Turn
	Stages     []string
	StageIndex int
	Terminal   bool
}

// Snapshot returns a deep copy of the current session.
func (c *Controller) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return Snapshot{}, ErrNoSession
	}
	return Snapshot{
		Session:    c.session.Clone(),
		Greeting:   c.greeting,
		Stages:     append([]string(nil), c.tracker.Stages(c.session.RoleKind)...),
		StageIndex: c.tracker.Index(c.session),
		Terminal:   c.tracker.IsTerminal(c.session),
	}, nil
}

// SessionID returns the current session identifier, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// OwnerID returns the identity the controller was created for.
func (c *Controller) OwnerID() string {
	return c.ownerID
}

// LastActive returns when the controller last handled a request.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Release closes the conversation log of the current session. The
// controller stays usable.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLog()
}

func (c *Controller) releaseLog() {
	if c.session != nil {
		c.conv.CloseSession(c.ownerID, c.session.ID)
	}
}

func (c *Controller) touch() {
	c.lastActive = c.now()
}

func (c *Controller) resetSpeech() {
	if c.speech != nil {
		c.cache = gateway.NewSpeechCache(c.speech)
	}
}

func (c *Controller) logEvent(direction, eventType string, turn domain.Turn, errMsg string) {
	c.conv.Log(ConversationLogEvent{
		Timestamp:  c.now().UTC().Format(time.RFC3339Nano),
		UserID:     c.ownerID,
		SessionID:  c.session.ID,
		Channel:    c.channel,
		Direction:  direction,
		EventType:  eventType,
		RoleKind:   string(c.session.RoleKind),
		Stage:      c.session.Stage,
		MessageID:  turn.ID,
		ContentRaw: turn.Text,
		Content:    cleanForReadability(turn.Text),
		Error:      errMsg,
	})
}
