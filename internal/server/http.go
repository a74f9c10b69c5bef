package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"rr-tracker/internal/config"
	"rr-tracker/internal/constants"
	"rr-tracker/internal/domain"
	"rr-tracker/internal/service"

	"github.com/rs/zerolog"
)

// Server maps the JSON HTTP surface onto the query and admin services.
type Server struct {
	query  *service.QueryService
	admin  *service.AdminService
	cfg    *config.Config
	logger zerolog.Logger
}

func New(query *service.QueryService, admin *service.AdminService, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{query: query, admin: admin, cfg: cfg, logger: logger}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /player", s.handleGetPlayer)
	mux.HandleFunc("GET /leaderboard", s.handleGetLeaderboard)
	mux.HandleFunc("GET /vrhistory/{pid}", s.handleGetHistory)
	mux.HandleFunc("GET /load_json", s.handleLoadJSON)
	mux.HandleFunc("GET /updatePlayer", s.handleUpdatePlayer)
	return mux
}

type playerJSON struct {
	PID           string `json:"pid"`
	FC            string `json:"fc"`
	EB            int    `json:"eb"`
	EV            int    `json:"ev"`
	Name          string `json:"name"`
	RawAvatarData string `json:"raw_avatar_data"`
	AvatarData    string `json:"avatar_data"`
	AvatarName    string `json:"avatar_name"`
	Suspend       int    `json:"suspend"`
	LastUpdated   int64  `json:"last_updated"`
	OpenHost      bool   `json:"open_host"`
	Banned        bool   `json:"banned"`
	Flagged       bool   `json:"flagged"`
	Position      int    `json:"position"`
}

type playerResponse struct {
	playerJSON
	LastRefresh int64 `json:"last_refresh"`
}

type leaderboardEntry struct {
	playerJSON
	VRChange7d int `json:"vr_change_7d"`
}

type leaderboardResponse struct {
	Players     []leaderboardEntry `json:"players"`
	TotalCount  int                `json:"total_count"`
	LastRefresh int64              `json:"last_refresh"`
}

type historySample struct {
	Timestamp int64 `json:"timestamp"`
	Rating    int   `json:"rating"`
}

type historyResponse struct {
	PID         string          `json:"pid"`
	History     []historySample `json:"history"`
	LastRefresh int64           `json:"last_refresh"`
}

func toPlayerJSON(p *domain.RankedPlayer) playerJSON {
	return playerJSON{
		PID:           p.PID,
		FC:            p.FC,
		EB:            p.EB,
		EV:            p.EV,
		Name:          p.Name,
		RawAvatarData: p.RawAvatarData,
		AvatarData:    p.AvatarData,
		AvatarName:    p.AvatarName,
		Suspend:       p.Suspend,
		LastUpdated:   p.LastUpdated,
		OpenHost:      p.OpenHost,
		Banned:        p.Banned,
		Flagged:       p.Flagged,
		Position:      p.Position,
	}
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("pid")
	fc := r.URL.Query().Get("fc")
	if pid == "" && fc == "" {
		writeError(w, http.StatusBadRequest, "Provide pid or fc")
		return
	}

	player, lastRefresh, err := s.query.GetPlayer(r.Context(), pid, fc)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		s.logger.Error().Err(err).Str("pid", pid).Str("fc", fc).Msg("player lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, playerResponse{playerJSON: toPlayerJSON(player), LastRefresh: lastRefresh})
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	start, end := 1, constants.DefaultLeaderboardEnd
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start/end")
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start/end")
			return
		}
	}

	page, err := s.query.GetLeaderboard(r.Context(), start, end, r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error().Err(err).Msg("leaderboard query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := make([]leaderboardEntry, len(page.Players))
	for i := range page.Players {
		entries[i] = leaderboardEntry{
			playerJSON: toPlayerJSON(&page.Players[i]),
			VRChange7d: page.Players[i].VRChange7d,
		}
	}
	writeJSON(w, leaderboardResponse{
		Players:     entries,
		TotalCount:  page.TotalCount,
		LastRefresh: page.LastRefresh,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")

	samples, lastRefresh, err := s.query.GetHistory(r.Context(), pid)
	if err != nil {
		s.logger.Error().Err(err).Str("pid", pid).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history := make([]historySample, len(samples))
	for i, sample := range samples {
		history[i] = historySample{Timestamp: sample.Timestamp, Rating: sample.VR}
	}
	writeJSON(w, historyResponse{PID: pid, History: history, LastRefresh: lastRefresh})
}

func (s *Server) handleLoadJSON(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusForbidden, "Invalid key")
		return
	}

	if err := s.admin.ImportFromFile(r.Context(), s.cfg.ImportPath); err != nil {
		s.logger.Error().Err(err).Str("path", s.cfg.ImportPath).Msg("bulk import failed")
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	w.Write([]byte("OK"))
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusForbidden, "Invalid key")
		return
	}

	q := r.URL.Query()
	pid := q.Get("pid")
	if pid == "" {
		writeError(w, http.StatusBadRequest, "Provide pid")
		return
	}

	banned, err := parseFlag(q.Get("ban"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "wrong ban")
		return
	}
	flagged, err := parseFlag(q.Get("rizz"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "wrong rizz")
		return
	}
	if banned == nil && flagged == nil {
		writeError(w, http.StatusBadRequest, "Provide ban or rizz")
		return
	}

	if err := s.admin.SetFlags(r.Context(), pid, banned, flagged); err != nil {
		s.logger.Error().Err(err).Str("pid", pid).Msg("flag override failed")
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	w.Write([]byte("OK"))
}

func (s *Server) authorized(r *http.Request) bool {
	key := r.URL.Query().Get("key")
	return key != "" && key == s.cfg.AdminKey
}

// parseFlag maps "0"/"1" to a flag value, "" to absent, anything else to an
// error.
func parseFlag(v string) (*bool, error) {
	switch v {
	case "":
		return nil, nil
	case "0":
		f := false
		return &f, nil
	case "1":
		t := true
		return &t, nil
	default:
		return nil, errors.New("invalid flag value")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
