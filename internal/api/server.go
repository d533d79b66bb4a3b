package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tapsquad/internal/auth"
	"tapsquad/internal/broadcast"
	"tapsquad/internal/config"
	"tapsquad/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const playerContextKey contextKey = "player"

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	identity auth.Resolver
	game     *game.Service
	hub      *broadcast.Hub
	notifier *broadcast.Notifier
	health   func(context.Context) error
	mux      *chi.Mux
}

type Option func(*Server)

// WithHealthCheck makes /healthz report the result of check.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

func New(cfg config.APIConfig, logger *slog.Logger, identity auth.Resolver, gameSvc *game.Service, hub *broadcast.Hub, notifier *broadcast.Notifier, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		identity: identity,
		game:     gameSvc,
		hub:      hub,
		notifier: notifier,
		mux:      chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealthz)
	// Observer streams stay open, so they skip the request timeout.
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/leaderboard/stream", s.handleLeaderboardStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"status": "UP", "message": "Server is healthy"})
			})
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/squads", s.handleListSquads)
			r.Get("/squads/{squadId}", s.handleSquadDetail)

			r.Group(func(r chi.Router) {
				r.Use(s.playerMiddleware)
				r.Get("/playerdata", s.handlePlayerData)
				r.Post("/tap", s.handleTap)
				r.Post("/claimdailyreward", s.handleClaimDailyReward)
				r.Post("/purchaseupgrade", s.handlePurchaseUpgrade)

				r.Post("/squads", s.handleCreateSquad)
				r.Post("/squads/leave", s.handleLeaveSquad)
				r.Post("/squads/{squadId}/join", s.handleJoinSquad)
				r.Get("/player/squad", s.handlePlayerSquad)
			})
		})
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.PlayerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// playerMiddleware resolves the caller's identity and loads (or creates) the
// matching player.
func (s *Server) playerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.identity.Resolve(r)
		if err != nil {
			if errors.Is(err, auth.ErrNoCredentials) {
				writeError(w, http.StatusUnauthorized, "missing player identity")
				return
			}
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, err := s.game.EnsurePlayer(r.Context(), userID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), playerContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func playerFromContext(ctx context.Context) (game.Player, error) {
	p, ok := ctx.Value(playerContextKey).(game.Player)
	if !ok || p.ID == "" {
		return game.Player{}, errors.New("missing player context")
	}
	return p, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"ok": true, "observers": s.hub.Count()}
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Warn("health check failed", "err", err)
			out["ok"] = false
			writeJSON(w, http.StatusServiceUnavailable, out)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayerData(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.PlayerData(r.Context(), p.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Tap(r.Context(), p.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaimDailyReward(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.ClaimDailyReward(r.Context(), p.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePurchaseUpgrade(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		UpgradeID string `json:"upgradeId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UpgradeID) == "" {
		writeError(w, http.StatusBadRequest, "upgradeId is required")
		return
	}
	out, err := s.game.PurchaseUpgrade(r.Context(), p.ID, in.UpgradeID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLeaderboardQuery(r *http.Request) (game.Metric, int, error) {
	metric, err := game.ParseMetric(r.URL.Query().Get("sortBy"))
	if err != nil {
		return "", 0, err
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return "", 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	return metric, limit, nil
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	metric, limit, err := parseLeaderboardQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = s.cfg.LeaderboardLimit
	}
	out, err := s.game.Leaderboard(r.Context(), metric, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// initialSnapshot encodes the current leaderboard for a new observer. A
// failure only costs the greeting; live updates still flow.
func (s *Server) initialSnapshot(r *http.Request, metric game.Metric) [][]byte {
	raw, err := s.notifier.Snapshot(r.Context(), metric)
	if err != nil {
		s.log.Warn("initial leaderboard snapshot failed", "metric", string(metric), "err", err)
		return nil
	}
	return [][]byte{raw}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.initialSnapshot(r, game.MetricCoins)...)
}

func (s *Server) handleLeaderboardStream(w http.ResponseWriter, r *http.Request) {
	metric, err := game.ParseMetric(r.URL.Query().Get("sortBy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.hub.ServeSSE(w, r, s.initialSnapshot(r, metric)...)
}

func (s *Server) handleListSquads(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.ListSquads(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSquadDetail(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.SquadDetail(r.Context(), chi.URLParam(r, "squadId"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSquad(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sq, err := s.game.CreateSquad(r.Context(), p.ID, in.Name, in.Description)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("Squad '%s' created successfully!", sq.Name),
		"squad":   sq,
	})
}

func (s *Server) handleJoinSquad(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.JoinSquad(r.Context(), p.ID, chi.URLParam(r, "squadId"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaveSquad(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.LeaveSquad(r.Context(), p.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayerSquad(w http.ResponseWriter, r *http.Request) {
	p, err := playerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	view, healed, err := s.game.PlayerSquad(r.Context(), p.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	switch {
	case view != nil:
		writeJSON(w, http.StatusOK, map[string]any{"squad": view})
	case healed:
		writeJSON(w, http.StatusOK, map[string]any{"squad": nil, "message": "Squad not found, your squad status has been cleared."})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"squad": nil, "message": "You are not currently in a squad."})
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrAlreadyInSquad), errors.Is(err, game.ErrNameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotInSquad),
		errors.Is(err, game.ErrInvalidSquadName),
		errors.Is(err, game.ErrInvalidMetric),
		errors.Is(err, game.ErrInsufficientCoins),
		errors.Is(err, game.ErrUpgradeOwned),
		errors.Is(err, game.ErrRewardClaimed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrSquadNotFound),
		errors.Is(err, game.ErrUpgradeNotFound),
		errors.Is(err, game.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.log.Error("store unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable, try again")
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
