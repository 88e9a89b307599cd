package main

import (
	"net/http"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// trophyRequest is the body of POST /trophies.
type trophyRequest struct {
	PlayerTag   string `json:"player_tag"`
	PlayerName  string `json:"player_name"`
	ClanTag     string `json:"clan_tag"`
	ClanName    string `json:"clan_name"`
	AttackWins  int    `json:"attack_wins"`
	OldTrophies int    `json:"old_trophies"`
	NewTrophies int    `json:"new_trophies"`
}

type handler struct {
	publisher feed.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

func routes(p feed.Publisher, l *logger.Logger) http.Handler {
	h := &handler{publisher: p, logger: l, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/trophies", h.publish)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

func (h *handler) publish(w http.ResponseWriter, r *http.Request) {
	var req trophyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	tag := feed.NormalizeTag(req.PlayerTag)
	if tag == "" {
		http.Error(w, "player_tag is required", http.StatusBadRequest)
		return
	}

	change := feed.NewTrophyChange(feed.Player{
		Tag:        tag,
		Name:       req.PlayerName,
		ClanTag:    feed.NormalizeTag(req.ClanTag),
		ClanName:   req.ClanName,
		AttackWins: req.AttackWins,
	}, req.OldTrophies, req.NewTrophies, h.now())

	if err := h.publisher.Publish(r.Context(), change); err != nil {
		h.logger.Error("failed to publish trophy change", err, zap.String("player_tag", tag))
		http.Error(w, "failed to publish", http.StatusBadGateway)
		return
	}
	h.logger.Info("trophy change published",
		zap.String("player_tag", tag), zap.Int("delta", change.Delta()), zap.String("id", change.ID.String()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(change)
}
