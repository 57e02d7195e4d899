// Package coordinator is C5: the HTTP surface and proxy orchestration that
// ties the signature engine (C1), persistent store (C2), shared cache
// (C3) and package repository (C4) together into the REST API spec.md §6
// describes. Grounded on
// _examples/original_source/c2/secchiware_c2/routes.py operation by
// operation, and on the teacher's cmd/gateway handler-per-file layout
// (one factory function per endpoint, closing over a shared dependency
// struct instead of package-level globals).
package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/cache"
	"github.com/secchiware/coordinator/internal/config"
	"github.com/secchiware/coordinator/internal/logging"
	"github.com/secchiware/coordinator/internal/metrics"
	"github.com/secchiware/coordinator/internal/middleware"
	"github.com/secchiware/coordinator/internal/nodeclient"
	"github.com/secchiware/coordinator/internal/repository"
	"github.com/secchiware/coordinator/internal/store"
)

// Deps bundles every collaborator the HTTP handlers need. Built once at
// startup and closed over by each handler factory, replacing the
// original's Flask `current_app.config`/module-level globals (spec.md §9
// "global mutable dictionaries ... replaced by the persistent store ...
// and the shared cache").
type Deps struct {
	Store      *store.Store
	Cache      *cache.Store
	Repository *repository.Repository
	Nodes      *nodeclient.Client
	Config     *config.Config
	Logger     *logging.Logger
	Metrics    *metrics.Collector

	nodeSecret   []byte
	clientSecret []byte
}

// NewDeps builds a Deps from the resolved collaborators and configured
// secrets.
func NewDeps(
	st *store.Store,
	ch *cache.Store,
	repo *repository.Repository,
	nodes *nodeclient.Client,
	cfg *config.Config,
	logger *logging.Logger,
	collector *metrics.Collector,
) *Deps {
	return &Deps{
		Store:        st,
		Cache:        ch,
		Repository:   repo,
		Nodes:        nodes,
		Config:       cfg,
		Logger:       logger,
		Metrics:      collector,
		nodeSecret:   []byte(cfg.NodeSecret),
		clientSecret: []byte(cfg.ClientSecret),
	}
}

// NewRouter builds the coordinator's gorilla/mux router with every
// endpoint in spec.md §6 wired in, under the standard middleware chain:
// recovery -> request logging -> metrics -> CORS (on listing/search
// routes only, per SPEC_FULL §7).
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(d.Logger)
	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(d.Logger))
	if d.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(d.Metrics))
	}

	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})

	listing := r.NewRoute().Subrouter()
	listing.Use(cors.Handler)

	listing.HandleFunc("/environments", d.ListEnvironments).Methods(http.MethodGet)
	r.HandleFunc("/environments", d.RegisterEnvironment).Methods(http.MethodPost)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}", d.DeregisterEnvironment).Methods(http.MethodDelete)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}/info", d.EnvironmentInfo).Methods(http.MethodGet)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}/installed", d.ListInstalled).Methods(http.MethodGet)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}/installed", d.InstallPackages).Methods(http.MethodPatch)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}/installed/{pkg}", d.UninstallPackage).Methods(http.MethodDelete)
	r.HandleFunc("/environments/{ip}/{port:[0-9]+}/reports", d.GetReports).Methods(http.MethodGet)

	r.HandleFunc("/events", d.Events).Methods(http.MethodGet)

	listing.HandleFunc("/executions", d.SearchExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id:[0-9]+}", d.DeleteExecution).Methods(http.MethodDelete)

	listing.HandleFunc("/sessions", d.SearchSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id:[0-9]+}", d.GetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id:[0-9]+}", d.DeleteSession).Methods(http.MethodDelete)

	listing.HandleFunc("/test_sets", d.ListAvailableTestSets).Methods(http.MethodGet)
	r.HandleFunc("/test_sets", d.UploadTestSets).Methods(http.MethodPatch)
	r.HandleFunc("/test_sets/{pkg}", d.DeleteTestSet).Methods(http.MethodDelete)

	if d.Config == nil || d.Config.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	return r
}

// nodeRPCContext returns a request-scoped context bounded by the
// configured node RPC timeout, for handlers that proxy to a node
// (spec.md §5 "node RPCs default to connection-error detection").
func (d *Deps) nodeRPCContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := d.Config.NodeRPCTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}
