package coordinator

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/store"
)

type sessionSummaryView struct {
	SessionID        int64  `json:"session_id"`
	SessionStart     string `json:"session_start"`
	SessionEnd       string `json:"session_end,omitempty"`
	IP               string `json:"ip"`
	Port             int    `json:"port"`
	PlatformOSSystem string `json:"platform_os_system"`
}

// SearchSessions handles GET /sessions: unauthenticated, parametrized
// search over the narrow session projection. Grounded on routes.py's
// search_sessions.
func (d *Deps) SearchSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := d.Store.SearchSessions(r.Context(), r.URL.Query())
	if errors.Is(err, store.ErrInvalidSearch) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to search sessions")
		return
	}

	out := make([]sessionSummaryView, 0, len(rows))
	for _, row := range rows {
		view := sessionSummaryView{
			SessionID:        row.SessionID,
			SessionStart:     row.SessionStart,
			IP:               row.IP,
			Port:             row.Port,
			PlatformOSSystem: row.OSSystem,
		}
		if row.SessionEnd.Valid {
			view.SessionEnd = row.SessionEnd.String
		}
		out = append(out, view)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type sessionView struct {
	SessionID    int64                  `json:"session_id"`
	SessionStart string                 `json:"session_start"`
	SessionEnd   string                 `json:"session_end,omitempty"`
	IP           string                 `json:"ip"`
	Port         int                    `json:"port"`
	PlatformInfo store.PlatformInfoWire `json:"platform_info"`
}

// GetSession handles GET /sessions/{id}: unauthenticated. Grounded on
// routes.py's get_session.
func (d *Deps) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid session id")
		return
	}
	sess, err := d.Store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "no session found with given id")
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to fetch session")
		return
	}

	view := sessionView{
		SessionID:    sess.ID,
		SessionStart: sess.Start,
		IP:           sess.IP,
		Port:         sess.Port,
		PlatformInfo: sess.PlatformInfo.ToWire(),
	}
	if sess.End != nil {
		view.SessionEnd = *sess.End
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// DeleteSession handles DELETE /sessions/{id}: client-signed. Grounded on
// routes.py's delete_session.
func (d *Deps) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !d.requireClientAuth(w, r) {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid session id")
		return
	}
	err = d.Store.DeleteSession(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "no session found with given id")
	case errors.Is(err, store.ErrSessionActive):
		httputil.BadRequest(w, "session is still active")
	case err != nil:
		httputil.InternalError(w, "failed to delete session")
	default:
		httputil.NoContent(w)
	}
}
