package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/deskbridge/internal/channel"
	"github.com/h1v3-io/deskbridge/internal/cleanup"
	"github.com/h1v3-io/deskbridge/internal/connector/webhook"
	"github.com/h1v3-io/deskbridge/internal/journal"
	"github.com/h1v3-io/deskbridge/internal/relay"
	"github.com/h1v3-io/deskbridge/internal/scheduler"
)

const banner = "✅ Teamwork-Slack webhook bridge is online."

// Relay is what the server needs from the event pipeline.
type Relay interface {
	webhook.EventHandler
	Health(ctx context.Context) (relay.HealthReport, error)
}

// Cleaner deletes the bridge's own recent messages from a channel.
type Cleaner interface {
	RunLimit(ctx context.Context, channel string, limit int) (cleanup.Report, error)
	Limit() int
}

// BotIDs lists the author ids treated as the bridge's own.
type BotIDs interface {
	IDs() []string
}

// Schedules manages scheduled cleanups.
type Schedules interface {
	Jobs() []scheduler.Job
	AddCleanup(channel, schedule string) error
	RemoveChannel(channel string) int
}

// Deps are the components the server exposes.
type Deps struct {
	Relay     Relay
	Cleaner   Cleaner
	Router    *channel.Router  // optional; defaults to an empty router
	Bots      BotIDs           // optional
	Journal   *journal.Journal // optional
	Schedules Schedules        // optional; /api/schedules answers 404 without it
}

// Config holds API server configuration.
type Config struct {
	Host          string
	Port          int
	Key           string // API key for Bearer auth on /api routes
	SigningSecret string // Slack signing secret for /clean-tickets; empty disables verification
	Webhook       webhook.Config
}

// Server is the deskbridge HTTP surface.
type Server struct {
	relay   Relay
	cleaner Cleaner
	router  *channel.Router
	sched   Schedules
	bots    BotIDs
	journal *journal.Journal
	cfg     Config
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Router == nil {
		deps.Router = channel.NewRouter("")
	}
	s := &Server{
		relay:   deps.Relay,
		cleaner: deps.Cleaner,
		router:  deps.Router,
		sched:   deps.Schedules,
		bots:    deps.Bots,
		journal: deps.Journal,
		cfg:     cfg,
		logger:  logger.With("component", "api"),
	}

	hook := webhook.New(cfg.Webhook, deps.Relay, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleRootPost)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /teamwork-webhook", hook)
	mux.Handle("POST /webhook", hook)
	mux.HandleFunc("POST /clean-tickets", s.handleCleanTickets)
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("POST /api/cleanup", s.requireAuth(s.handleCleanup))
	mux.HandleFunc("GET /api/activity", s.requireAuth(s.handleActivity))
	mux.HandleFunc("GET /api/schedules", s.requireAuth(s.handleListSchedules))
	mux.HandleFunc("POST /api/schedules", s.requireAuth(s.handleAddSchedule))
	mux.HandleFunc("DELETE /api/schedules/{channel}", s.requireAuth(s.handleRemoveSchedule))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, banner)
}

func (s *Server) handleRootPost(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"message": "Teamwork tried to POST to root. Please use /teamwork-webhook",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := s.relay.Health(r.Context())
	if err != nil {
		details := rep.Delivery.Body
		if details == "" {
			details = err.Error()
		}
		s.logger.Warn("health check failed", "channel", rep.Channel, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":    "error",
			"details":   details,
			"timestamp": rep.Timestamp,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": rep.Timestamp})
}

type cleanResponse struct {
	Message      string `json:"message"`
	Text         string `json:"text"`
	ResponseType string `json:"response_type"`
}

func (s *Server) handleCleanTickets(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SigningSecret != "" {
		if err := s.verifySlackRequest(r); err != nil {
			s.logger.Warn("slash command rejected", "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}
	if cmd.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel_id is required"})
		return
	}

	limit := s.cleaner.Limit()
	if n, err := strconv.Atoi(strings.TrimSpace(cmd.Text)); err == nil && n > 0 {
		limit = n
	}

	s.router.SetActive(cmd.ChannelID)
	rep, err := s.cleaner.RunLimit(r.Context(), cmd.ChannelID, limit)
	if err != nil && rep.Scanned == 0 {
		s.logger.Error("cleanup failed", "channel", cmd.ChannelID, "user", cmd.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed", "details": err.Error()})
		return
	}
	s.logger.Info("cleanup requested",
		"channel", cmd.ChannelID,
		"user", cmd.UserID,
		"deleted", rep.Deleted,
		"failed", rep.Failed,
	)
	msg := rep.Message()
	writeJSON(w, http.StatusOK, cleanResponse{Message: msg, Text: msg, ResponseType: slack.ResponseTypeEphemeral})
}

// verifySlackRequest checks the v0 request signature and restores the body
// for form parsing.
func (s *Server) verifySlackRequest(r *http.Request) error {
	sv, err := slack.NewSecretsVerifier(r.Header, s.cfg.SigningSecret)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, webhook.MaxBodyBytes))
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

type statusResponse struct {
	ActiveChannel string   `json:"active_channel"`
	BotIDs        []string `json:"bot_ids"`
	HistoryLimit  int      `json:"history_limit"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		ActiveChannel: s.router.Active(),
		BotIDs:        []string{},
		HistoryLimit:  s.cleaner.Limit(),
	}
	if s.bots != nil {
		if ids := s.bots.IDs(); len(ids) > 0 {
			resp.BotIDs = ids
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ch := r.URL.Query().Get("channel")
	if ch == "" {
		ch = s.router.Active()
	}
	if ch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel is required"})
		return
	}
	limit := s.cleaner.Limit()
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	rep, err := s.cleaner.RunLimit(r.Context(), ch, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []journal.Entry{})
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.journal.Query(since, journal.Kind(r.URL.Query().Get("kind")), limit)
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scheduling disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Jobs())
}

type scheduleRequest struct {
	Channel  string `json:"channel"`
	Schedule string `json:"schedule"`
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scheduling disabled"})
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, webhook.MaxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := s.sched.AddCleanup(req.Channel, req.Schedule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, s.sched.Jobs())
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scheduling disabled"})
		return
	}
	ch := r.PathValue("channel")
	n := s.sched.RemoveChannel(ch)
	if n == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no schedules for channel"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "removed": n})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
