package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// NewRouter builds the HTTP surface.
func NewRouter(h *Handlers, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", hc.HandleHealth)
	r.Get("/health/ready", hc.HandleReadiness)

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Route("/{campaignId}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Post("/recipients", h.HandleAttachRecipients)
			r.Post("/queue", h.HandleQueue)
			r.Post("/start", h.HandleStart)
			r.Post("/halt", h.HandleHalt)
			r.Post("/cancel", h.HandleCancel)
			r.Post("/reconcile", h.HandleReconcile)
			r.Get("/progress", h.HandleProgress)
			r.Get("/send-log", h.HandleSendLog)
			r.Post("/send-log/archive", h.HandleArchiveSendLog)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("[API] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
