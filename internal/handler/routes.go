package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/middleware"
)

// Routes builds the router. Mutating routes sit behind bearer auth and job
// submission is rate limited.
func (h *Handler) Routes(cfg *config.Config, limiter *rate.Limiter) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(h.log))

	// Public routes
	r.HandleFunc("/", h.Root).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/version", h.Version).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/classical/status", h.Status).Methods("GET")
	r.HandleFunc("/classical/download", h.Download).Methods("GET")
	r.HandleFunc("/classical/result", h.Result).Methods("GET")
	r.HandleFunc("/data/targets", h.Targets).Methods("GET")
	r.HandleFunc("/data/filters", h.Filters).Methods("GET")
	r.HandleFunc("/data/last_date", h.LastDate).Methods("GET")

	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.Handle("/classical/start", middleware.RateLimit(limiter)(http.HandlerFunc(h.Start))).Methods("POST")
	authRouter.HandleFunc("/classical/resume", h.Resume).Methods("POST")
	authRouter.HandleFunc("/classical/stage", h.Stage).Methods("POST")
	authRouter.HandleFunc("/upload/air_quality", h.UploadAirQuality).Methods("POST")

	return middleware.CORS(cfg.AllowedOrigins)(r)
}
