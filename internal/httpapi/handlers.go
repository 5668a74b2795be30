package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/DoyleJ11/pugbot/internal/catalog"
	"github.com/DoyleJ11/pugbot/internal/channels"
	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/hub"
	"github.com/DoyleJ11/pugbot/internal/records"
	"github.com/DoyleJ11/pugbot/internal/types"
	pub "github.com/DoyleJ11/pugbot/pkg/types"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RecordReader interface {
	Recent(ctx context.Context, channelID string, limit int) ([]records.SessionRecord, error)
}

type Vacater interface {
	Vacate(ctx context.Context, address string) (string, error)
}

type API struct {
	Hub      *hub.Hub
	Catalog  *catalog.Catalog
	Channels channels.Store
	Records  RecordReader // nil when no database is configured
	Vacater  Vacater
	Servers  []string
	Log      *zap.Logger
	Now      func() time.Time
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoSession), errors.Is(err, engine.ErrNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrWrongState), errors.Is(err, engine.ErrAlreadyQueued),
		errors.Is(err, engine.ErrNotQueued), errors.Is(err, engine.ErrSessionFull),
		errors.Is(err, engine.ErrSessionExists), errors.Is(err, engine.ErrCommitted):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrUnknownMap), errors.Is(err, catalog.ErrUnknownMode):
		status = http.StatusBadRequest
	case errors.Is(err, hub.ErrClosed), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError && a.Log != nil {
		a.Log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, pub.ErrorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, pub.ErrorResponse{Error: "bad json"})
		return false
	}
	return true
}

func (a *API) session(w http.ResponseWriter, status int, s engine.Session) {
	writeJSON(w, status, types.NewSessionView(s, a.now()))
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.Hub.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]pub.SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, types.NewSessionView(s, a.now()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Hub.Status(r.Context(), chi.URLParam(r, "channel"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusOK, s)
}

func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Hub.Start(r.Context(), chi.URLParam(r, "channel"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusCreated, s)
}

func (a *API) StopSession(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Hub.Stop(r.Context(), chi.URLParam(r, "channel")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) SetMode(w http.ResponseWriter, r *http.Request) {
	var req types.ModeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.Hub.SetMode(r.Context(), chi.URLParam(r, "channel"), req.Mode); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Join(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Player == "" {
		writeJSON(w, http.StatusBadRequest, pub.ErrorResponse{Error: "missing player"})
		return
	}
	res, err := a.Hub.Join(r.Context(), chi.URLParam(r, "channel"), req.Player, types.Minutes(req.Minutes))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusOK, res.Session)
}

// Leave removes a player. With ?by= it is recorded as a kick.
func (a *API) Leave(w http.ResponseWriter, r *http.Request) {
	channel, player := chi.URLParam(r, "channel"), chi.URLParam(r, "player")
	var (
		res hub.Result
		err error
	)
	if by := r.URL.Query().Get("by"); by != "" {
		res, err = a.Hub.Kick(r.Context(), channel, player, by)
	} else {
		res, err = a.Hub.Leave(r.Context(), channel, player)
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusOK, res.Session)
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	var req types.ReadyRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := a.Hub.Ready(r.Context(), chi.URLParam(r, "channel"), chi.URLParam(r, "player"), types.Minutes(req.Minutes))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusOK, res.Session)
}

func (a *API) Vote(w http.ResponseWriter, r *http.Request) {
	var req types.VoteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.Hub.Vote(r.Context(), chi.URLParam(r, "channel"), chi.URLParam(r, "player"), req.Map)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.session(w, http.StatusOK, res.Session)
}

func (a *API) Modes(w http.ResponseWriter, r *http.Request) {
	out := make([]pub.ModeResponse, 0, len(a.Catalog.Modes))
	for _, m := range a.Catalog.Modes {
		out = append(out, pub.ModeResponse{Name: m.Name, Capacity: m.Capacity, Maps: m.Maps})
	}
	writeJSON(w, http.StatusOK, out)
}

// ChannelModes lists every configured channel and its mode.
func (a *API) ChannelModes(w http.ResponseWriter, r *http.Request) {
	modes, err := a.Channels.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modes)
}

func (a *API) Records(w http.ResponseWriter, r *http.Request) {
	if a.Records == nil {
		writeJSON(w, http.StatusNotImplemented, pub.ErrorResponse{Error: "records are disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, pub.ErrorResponse{Error: "bad limit"})
			return
		}
		limit = min(n, 100)
	}
	recs, err := a.Records.Recent(r.Context(), chi.URLParam(r, "channel"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Vacate kicks everyone off a server in the pool.
func (a *API) Vacate(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if !slices.Contains(a.Servers, addr) {
		writeJSON(w, http.StatusNotFound, pub.ErrorResponse{Error: "unknown server"})
		return
	}
	out, err := a.Vacater.Vacate(r.Context(), addr)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, pub.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Response string `json:"response"`
	}{Response: out})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
