package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/cache"
	"github.com/secchiware/coordinator/internal/httputil"
)

// requireRegistered checks that (ip, port) is the address of a currently
// active session, writing 404 otherwise. Grounded on routes.py's
// check_registered, used by every /environments/{ip}/{port}/... handler
// that isn't itself a registration/deregistration.
func (d *Deps) requireRegistered(w http.ResponseWriter, r *http.Request, ip string, port int) bool {
	_, err := d.Store.ActiveSessionID(r.Context(), ip, port)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no environment registered at %s:%d", ip, port))
		return false
	}
	return true
}

func (d *Deps) installedMutex(ip string, port int) *cache.Mutex {
	return cache.NewMutex(d.Cache, cache.EnvironmentMutexResource(ip, port), 30*time.Second, time.Second)
}

// ListInstalled handles GET /environments/{ip}/{port}/installed: no auth,
// served from cache once primed, otherwise proxied from the node and the
// cache is populated. Grounded on routes.py's list_installed_test_sets.
func (d *Deps) ListInstalled(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}
	if !d.requireRegistered(w, r, ip, port) {
		return
	}

	ctx := r.Context()

	cached, err := d.Cache.InstalledCached(ctx, ip, port)
	if err != nil {
		httputil.InternalError(w, "failed to read installed-package cache")
		return
	}

	mu := d.installedMutex(ip, port)
	acquired := false
	if !cached {
		if err := mu.Acquire(ctx); err != nil {
			httputil.InternalError(w, "failed to acquire installed-package lock")
			return
		}
		acquired = true
		defer func() {
			if acquired {
				mu.Release(ctx)
			}
		}()
		// Re-check: another request may have primed the cache while we
		// waited for the mutex.
		cached, err = d.Cache.InstalledCached(ctx, ip, port)
		if err != nil {
			httputil.InternalError(w, "failed to read installed-package cache")
			return
		}
	}

	if cached {
		entries, err := d.Cache.ListInstalledPackages(ctx, ip, port)
		if err != nil {
			httputil.InternalError(w, "failed to list installed packages")
			return
		}
		writeManifestArray(w, entries)
		return
	}

	nodeCtx, cancel := d.nodeRPCContext(r)
	defer cancel()
	resp, err := d.Nodes.GetTestSets(nodeCtx, ip, port)
	if err != nil {
		writeGatewayError(w, ip, port, err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		writeUnexpectedNodeStatus(w, ip, port)
		return
	}

	var packages []json.RawMessage
	if err := json.Unmarshal(resp.Body, &packages); err != nil {
		httputil.BadGateway(w, fmt.Sprintf("node at %s:%d returned a malformed test-set list", ip, port))
		return
	}
	for _, raw := range packages {
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &named); err != nil || named.Name == "" {
			httputil.BadGateway(w, fmt.Sprintf("node at %s:%d returned a malformed test-set entry", ip, port))
			return
		}
		if err := d.Cache.PutInstalledPackage(ctx, ip, port, named.Name, string(raw)); err != nil {
			httputil.InternalError(w, "failed to cache installed package")
			return
		}
	}
	if err := d.Cache.SetInstalledCached(ctx, ip, port, true); err != nil {
		httputil.InternalError(w, "failed to mark installed-package cache primed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func writeManifestArray(w http.ResponseWriter, entries []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(entries) == 0 {
		w.Write([]byte("[]"))
		return
	}
	buf := []byte{'['}
	for i, e := range entries {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, []byte(e)...)
	}
	buf = append(buf, ']')
	w.Write(buf)
}

type installPackagesRequest []string

// InstallPackages handles PATCH /environments/{ip}/{port}/installed:
// client-signed, Digest-bound. Builds an archive of the requested
// packages from the repository, relays it to the node as a signed
// multipart PATCH, and refreshes the per-environment cache on success.
// Grounded on routes.py's install_packages.
func (d *Deps) InstallPackages(w http.ResponseWriter, r *http.Request) {
	body, ok := d.readBody(w, r, d.Config.JSONBodyLimit)
	if !ok {
		return
	}
	if !d.requireDigest(w, r, body) {
		return
	}
	if !d.requireClientAuth(w, r, "Digest") {
		return
	}
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}
	if !d.requireRegistered(w, r, ip, port) {
		return
	}
	if !requireJSON(w, r) {
		return
	}

	var packages installPackagesRequest
	if err := json.Unmarshal(body, &packages); err != nil || len(packages) == 0 {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	ctx := r.Context()
	archive, err := d.Repository.Archive(ctx, packages)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if d.Metrics != nil {
		d.Metrics.ObserveArchiveBytes(len(archive))
	}

	mu := d.installedMutex(ip, port)
	if err := mu.Acquire(ctx); err != nil {
		httputil.InternalError(w, "failed to acquire installed-package lock")
		return
	}
	defer mu.Release(ctx)

	nodeCtx, cancel := d.nodeRPCContext(r)
	defer cancel()
	resp, err := d.Nodes.PatchTestSets(nodeCtx, ip, port, archive)
	if err != nil {
		writeGatewayError(w, ip, port, err)
		return
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		cached, err := d.Cache.InstalledCached(ctx, ip, port)
		if err != nil {
			httputil.InternalError(w, "failed to read installed-package cache")
			return
		}
		if cached {
			for _, pkg := range packages {
				manifestJSON, found, err := d.Repository.ManifestFor(ctx, pkg)
				if err != nil {
					httputil.InternalError(w, "failed to read repository manifest")
					return
				}
				if !found {
					continue
				}
				if err := d.Cache.PutInstalledPackage(ctx, ip, port, pkg, manifestJSON); err != nil {
					httputil.InternalError(w, "failed to refresh installed-package cache")
					return
				}
			}
		}
		httputil.NoContent(w)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusUnsupportedMediaType:
		httputil.InternalError(w, "something went wrong when handling the request")
	default:
		writeUnexpectedNodeStatus(w, ip, port)
	}
}

// UninstallPackage handles DELETE
// /environments/{ip}/{port}/installed/{pkg}: client-signed. Grounded on
// routes.py's delete_installed_package.
func (d *Deps) UninstallPackage(w http.ResponseWriter, r *http.Request) {
	if !d.requireClientAuth(w, r) {
		return
	}
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}
	if !d.requireRegistered(w, r, ip, port) {
		return
	}
	pkg := mux.Vars(r)["pkg"]

	ctx := r.Context()
	mu := d.installedMutex(ip, port)
	if err := mu.Acquire(ctx); err != nil {
		httputil.InternalError(w, "failed to acquire installed-package lock")
		return
	}
	defer mu.Release(ctx)

	nodeCtx, cancel := d.nodeRPCContext(r)
	defer cancel()
	resp, err := d.Nodes.DeleteTestSet(nodeCtx, ip, port, pkg)
	if err != nil {
		writeGatewayError(w, ip, port, err)
		return
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		cached, err := d.Cache.InstalledCached(ctx, ip, port)
		if err != nil {
			httputil.InternalError(w, "failed to read installed-package cache")
			return
		}
		if cached {
			if err := d.Cache.RemoveInstalledPackage(ctx, ip, port, pkg); err != nil {
				httputil.InternalError(w, "failed to update installed-package cache")
				return
			}
		}
		httputil.NoContent(w)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		httputil.NotFound(w, fmt.Sprintf("%q not found at %s:%d", pkg, ip, port))
	default:
		writeUnexpectedNodeStatus(w, ip, port)
	}
}
