package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/store"
)

// environmentVars extracts and validates the {ip}/{port} path variables
// shared by every /environments/{ip}/{port}/... route.
func environmentVars(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	ip := vars["ip"]
	port, err := strconv.Atoi(vars["port"])
	if err != nil {
		httputil.BadRequest(w, "invalid port")
		return "", 0, false
	}
	return ip, port, true
}

// ListEnvironments handles GET /environments: spec.md §4.5.1 / §6.
// Grounded on routes.py's list_environments.
func (d *Deps) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	active, err := d.Store.ListActiveSessions(r.Context())
	if err != nil {
		httputil.InternalError(w, "failed to list active sessions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, active)
}

type registerEnvironmentRequest struct {
	IP           string                `json:"ip"`
	Port         int                   `json:"port"`
	PlatformInfo store.PlatformInfoWire `json:"platform_info"`
}

// RegisterEnvironment handles POST /environments: node-signed,
// body-bound. Grounded on routes.py's add_environment (spec.md §4.5.1
// "Register").
func (d *Deps) RegisterEnvironment(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r, d.Config.JSONBodyLimit)
	if !ok {
		return
	}
	if !d.requireDigest(w, r, body) {
		return
	}
	if !d.requireNodeAuth(w, r, "Digest") {
		return
	}
	if !requireJSON(w, r) {
		return
	}

	var req registerEnvironmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.IP == "" || req.Port == 0 {
		httputil.BadRequest(w, "one or more keys missing in request's body")
		return
	}

	ctx := r.Context()

	// Step 1: end any previous active session at (ip, port) and clear its
	// cache namespace (an implicit recovery from a node that died without
	// deregistering).
	_, err := d.Store.ActiveSessionID(ctx, req.IP, req.Port)
	if err == nil {
		endTS, endErr := d.Store.EndActiveSession(ctx, req.IP, req.Port, nowUTC())
		if endErr != nil && !errors.Is(endErr, store.ErrNotFound) {
			httputil.InternalError(w, "failed to end previous session")
			return
		}
		_ = endTS
		if err := d.Cache.ClearEnvironment(ctx, req.IP, req.Port); err != nil {
			httputil.InternalError(w, "failed to clear previous environment cache")
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		httputil.InternalError(w, "failed to look up previous session")
		return
	}

	// Step 2: mark the new session's cache as unprimed.
	if err := d.Cache.InitEnvironment(ctx, req.IP, req.Port); err != nil {
		httputil.InternalError(w, "failed to initialize environment cache")
		return
	}

	// Step 3: insert the new session row.
	sess, err := d.Store.CreateSession(ctx, req.IP, req.Port, store.FromWire(req.PlatformInfo))
	if err != nil {
		httputil.InternalError(w, "failed to create session")
		return
	}

	// Step 4: publish a "start" event.
	if err := d.publishEvent(ctx, environmentEvent{
		Type:         "start",
		SessionID:    sess.ID,
		IP:           sess.IP,
		Port:         sess.Port,
		SessionStart: sess.Start,
	}); err != nil {
		d.Logger.WithContext(ctx).WithError(err).Warn("failed to publish registration event")
	}

	httputil.NoContent(w)
}

// DeregisterEnvironment handles DELETE /environments/{ip}/{port}:
// node-signed. Grounded on routes.py's remove_environment (spec.md §4.5.1
// "Deregister").
func (d *Deps) DeregisterEnvironment(w http.ResponseWriter, r *http.Request) {
	if !d.requireNodeAuth(w, r) {
		return
	}
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	endTS := nowUTC()
	id, err := d.Store.EndActiveSession(ctx, ip, port, endTS)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("no environment registered at %s:%d", ip, port))
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to end session")
		return
	}

	if err := d.Cache.ClearEnvironment(ctx, ip, port); err != nil {
		httputil.InternalError(w, "failed to clear environment cache")
		return
	}

	if err := d.publishEvent(ctx, environmentEvent{
		Type:       "stop",
		SessionID:  id,
		IP:         ip,
		Port:       port,
		SessionEnd: endTS,
	}); err != nil {
		d.Logger.WithContext(ctx).WithError(err).Warn("failed to publish deregistration event")
	}

	httputil.NoContent(w)
}

// EnvironmentInfo handles GET /environments/{ip}/{port}/info: no auth.
// Grounded on routes.py's get_environment_info.
func (d *Deps) EnvironmentInfo(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}
	info, err := d.Store.GetPlatformInfo(r.Context(), ip, port)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("no environment registered at %s:%d", ip, port))
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to fetch platform info")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info.ToWire())
}
