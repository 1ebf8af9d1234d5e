package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"chatrelay/pkg/api"
	"chatrelay/pkg/auth"
	"chatrelay/pkg/banner"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

const httpDrainTimeout = 10 * time.Second

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// setupRoutes registers the API, probes and operational endpoints.
func (a *App) setupRoutes(r *mux.Router) {
	h := api.New(a.store, a.bus, a.queue, a.pipeline, a.eff.Config.Relay.SelfID)
	h.Routes(r)

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.PathPrefix("/openapi.yaml").Handler(http.FileServer(http.Dir("./docs")))
	r.Handle("/metrics", promhttp.Handler())
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyzHandler reports readiness once the store is open; it also surfaces
// ingest backlog so probes can see a saturated queue.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		QueueDepth int    `json:"queue_depth"`
	}{Status: "ok", Version: ver, QueueDepth: a.queue.Len()})
}

// startHTTP builds the handler chain, starts the server in a goroutine and
// returns a channel carrying any server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	r := mux.NewRouter()
	a.setupRoutes(r)

	wrapped := auth.GatewayMiddleware(a.eff.Config.Security)(r)
	wrapped = telemetry.Middleware(wrapped)

	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
