package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the collaborators served by the HTTP router.
type RouterConfig struct {
	Identifier     Identifier
	Store          Pinger
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
	RequestTimeout time.Duration
	// AllowedOrigins lists the CORS origins; empty allows any.
	AllowedOrigins []string
}

// NewRouter wires the routes and wraps them in the middleware chain.
// The chain sits outside the mux so unmatched routes are logged too.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()
	router.HandleFunc("/identify", NewIdentifyHandler(cfg.Identifier, logger).Handle).Methods(http.MethodPost)
	router.HandleFunc("/health", NewHealthHandler(cfg.Store, logger).Handle).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, http.StatusNotFound, cannot(r))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, http.StatusMethodNotAllowed, cannot(r))
	})

	var h http.Handler = router
	h = Timeout(cfg.RequestTimeout)(h)
	h = CORS(cfg.AllowedOrigins)(h)
	h = SecureHeaders()(h)
	h = Recovery(logger)(h)
	h = Logger(logger)(h)
	h = RequestID(h)
	return h
}

func cannot(r *http.Request) string {
	return fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path)
}
