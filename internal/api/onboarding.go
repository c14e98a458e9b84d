package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/identity"
	"github.com/ashureev/tennis-onboard/internal/store"
)

// ControllerFactory creates an empty controller for an identity and channel.
type ControllerFactory func(ownerID, channel string) (*agent.Controller, error)

// ArchiveReader looks up saved sessions.
type ArchiveReader interface {
	Get(ctx context.Context, sessionID string) (*store.Entry, error)
	List(ctx context.Context, ownerID string, limit int) ([]store.Entry, error)
}

// OnboardingHandler serves the onboarding conversation API.
type OnboardingHandler struct {
	registry    *agent.Registry
	newCtrl     ControllerFactory
	archive     ArchiveReader
	limiter     *RateLimiter
	sockets     *SocketRegistry
	defaultLang domain.Language
}

// NewOnboardingHandler creates the handler. archive, limiter and sockets may be nil.
func NewOnboardingHandler(reg *agent.Registry, factory ControllerFactory, archive ArchiveReader, limiter *RateLimiter, sockets *SocketRegistry, defaultLang domain.Language) *OnboardingHandler {
	if defaultLang == "" {
		defaultLang = domain.DefaultLanguage
	}
	return &OnboardingHandler{
		registry:    reg,
		newCtrl:     factory,
		archive:     archive,
		limiter:     limiter,
		sockets:     sockets,
		defaultLang: defaultLang,
	}
}

// RegisterRoutes registers the onboarding routes.
func (h *OnboardingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/onboarding", func(r chi.Router) {
		r.Post("/sessions", h.Begin)
		r.Post("/sessions/load", h.Load)
		r.Get("/archive", h.Archive)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Reset)
			r.Post("/turns", h.Turn)
			r.Patch("/profile", h.UpdateProfile)
			r.Post("/save", h.Save)
			r.Get("/messages/{messageID}/speech", h.Speech)
		})
	})
}

type beginRequest struct {
	Role     string `json:"role"`
	Language string `json:"language"`
}

type turnRequest struct {
	Text string `json:"text"`
}

type profileRequest struct {
	Fields map[string]any `json:"fields"`
}

type loadRequest struct {
	Location  string `json:"location,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type sessionView struct {
	SessionID     string          `json:"session_id"`
	Role          domain.RoleKind `json:"role"`
	Language      domain.Language `json:"language"`
	Stage         string          `json:"stage"`
	StageIndex    int             `json:"stage_index"`
	Stages        []string        `json:"stages"`
	Terminal      bool            `json:"terminal"`
	Profile       domain.Profile  `json:"profile"`
	Transcript    []domain.Turn   `json:"transcript"`
	Greeting      *domain.Turn    `json:"greeting,omitempty"`
	SpeechEnabled bool            `json:"speech_enabled"`
}

func viewOf(c *agent.Controller) (sessionView, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return sessionView{}, err
	}
	v := sessionView{
		SessionID:     snap.Session.ID,
		Role:          snap.Session.RoleKind,
		Language:      snap.Session.Language,
		Stage:         snap.Session.Stage,
		StageIndex:    snap.StageIndex,
		Stages:        snap.Stages,
		Terminal:      snap.Terminal,
		Profile:       snap.Session.Profile,
		Transcript:    snap.Session.Transcript.All(),
		SpeechEnabled: c.SpeechEnabled(),
	}
	if v.Profile == nil {
		v.Profile = domain.Profile{}
	}
	if snap.Greeting.ID != "" {
		g := snap.Greeting
		v.Greeting = &g
	}
	return v, nil
}

func (h *OnboardingHandler) writeView(w http.ResponseWriter, status int, c *agent.Controller) {
	v, err := viewOf(c)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, status, v)
}

func (h *OnboardingHandler) controller(w http.ResponseWriter, r *http.Request) (*agent.Controller, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	c, err := h.registry.Get(userID, chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return c, true
}

// Begin handles POST /api/onboarding/sessions.
func (h *OnboardingHandler) Begin(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req beginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	kind, err := domain.ParseRoleKind(req.Role)
	if err != nil {
		Error(w, http.StatusBadRequest, "role must be player or coach")
		return
	}
	lang := h.defaultLang
	if req.Language != "" {
		if lang, err = domain.ParseLanguage(req.Language); err != nil {
			Error(w, http.StatusBadRequest, "language must be fr or en")
			return
		}
	}

	c, err := h.newCtrl(userID, "chat_http")
	if err != nil {
		slog.Error("Failed to create controller", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if _, err := c.Begin(kind, lang); err != nil {
		slog.Error("Failed to begin session", "error", err, "role", kind, "language", lang)
		Error(w, http.StatusInternalServerError, "failed to begin session")
		return
	}
	id := h.registry.Put(c)

	slog.Info("Onboarding session created",
		"user_id", userID,
		"session_id", id,
		"role", kind,
		"language", lang,
		"request_id", chiMiddleware.GetReqID(r.Context()))
	h.writeView(w, http.StatusCreated, c)
}

// Get handles GET /api/onboarding/sessions/{id}.
func (h *OnboardingHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.writeView(w, http.StatusOK, c)
}

// Turn handles POST /api/onboarding/sessions/{id}/turns.
func (h *OnboardingHandler) Turn(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(c.OwnerID()) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	res, err := c.Turn(r.Context(), req.Text)
	if err != nil {
		Error(w, http.StatusConflict, "session not begun")
		return
	}
	JSON(w, http.StatusOK, res)
}

// UpdateProfile handles PATCH /api/onboarding/sessions/{id}/profile.
func (h *OnboardingHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := c.UpdateProfile(req.Fields); err != nil {
		Error(w, http.StatusConflict, "session not begun")
		return
	}
	h.writeView(w, http.StatusOK, c)
}

// Save handles POST /api/onboarding/sessions/{id}/save.
func (h *OnboardingHandler) Save(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	path, err := c.Save(r.Context())
	if err != nil {
		slog.Error("Failed to save session", "error", err, "session_id", c.SessionID())
		Error(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"session_id": c.SessionID(),
		"location":   filepath.Base(path),
	})
}

// Load handles POST /api/onboarding/sessions/load. The session is read from
// a file name inside the sessions directory or from the latest archived
// save of a session id owned by the caller.
func (h *OnboardingHandler) Load(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req loadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	location := filepath.Base(req.Location)
	if req.SessionID != "" {
		if h.archive == nil {
			Error(w, http.StatusNotFound, "archive disabled")
			return
		}
		entry, err := h.archive.Get(r.Context(), req.SessionID)
		if err != nil {
			slog.Error("Archive lookup failed", "error", err, "session_id", req.SessionID)
			Error(w, http.StatusInternalServerError, "archive lookup failed")
			return
		}
		if entry == nil || entry.OwnerID != userID {
			Error(w, http.StatusNotFound, "saved session not found")
			return
		}
		location = filepath.Base(entry.Path)
	}
	if location == "" || location == "." || location == string(filepath.Separator) {
		Error(w, http.StatusBadRequest, "location or session_id is required")
		return
	}

	c, err := h.newCtrl(userID, "chat_http")
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := c.Load(r.Context(), location); err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			Error(w, http.StatusNotFound, "saved session not found")
		case errors.Is(err, store.ErrInvalidSessionFile), errors.Is(err, agent.ErrInvalidSession):
			Error(w, http.StatusUnprocessableEntity, "saved session is invalid")
		default:
			slog.Error("Failed to load session", "error", err, "location", location)
			Error(w, http.StatusInternalServerError, "failed to load session")
		}
		return
	}
	if h.registry.HeldByOther(c.SessionID(), userID) {
		Error(w, http.StatusConflict, "session is live for another identity")
		return
	}
	_, liveErr := h.registry.Get(userID, c.SessionID())
	id := h.registry.Put(c)
	if liveErr == nil && h.sockets != nil {
		h.sockets.Close(id)
	}
	h.writeView(w, http.StatusOK, c)
}

// Speech handles GET /api/onboarding/sessions/{id}/messages/{messageID}/speech.
func (h *OnboardingHandler) Speech(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	audio, err := c.Speak(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrSpeechDisabled):
			Error(w, http.StatusNotFound, "speech disabled")
		case errors.Is(err, agent.ErrMessageNotFound):
			Error(w, http.StatusNotFound, "message not found")
		case errors.Is(err, agent.ErrNoSession):
			Error(w, http.StatusConflict, "session not begun")
		default:
			slog.Warn("Speech synthesis failed",
				"session_id", c.SessionID(),
				"class", gateway.Class(err),
				"error", err)
			Error(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// Reset handles DELETE /api/onboarding/sessions/{id}.
func (h *OnboardingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !h.registry.Remove(userID, id) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if h.sockets != nil {
		h.sockets.Close(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles GET /api/onboarding/archive.
func (h *OnboardingHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	entries := []store.Entry{}
	if h.archive != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := h.archive.List(r.Context(), userID, limit)
		if err != nil {
			slog.Error("Archive list failed", "error", err)
			Error(w, http.StatusInternalServerError, "archive unavailable")
			return
		}
		for _, e := range list {
			e.Path = filepath.Base(e.Path)
			entries = append(entries, e)
		}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": entries})
}
