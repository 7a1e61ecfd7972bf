package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/resthouse-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/resthouse-booking/internal/http/middleware"
	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/internal/webchat"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Metrics            *metrics.ConversationMetrics
	MetricsHandler     http.Handler
	Chat               *webchat.Handler
	Bookings           *handlers.BookingHandler
	Admin              *handlers.AdminBookingsHandler
	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Per-IP limit on chat and public booking routes. Zero disables it.
	RateLimit float64
	RateBurst int

	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.Metrics))

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	limited := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit > 0 {
		limited = httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst))
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.Chat != nil {
			api.Route("/chat", func(chat chi.Router) {
				chat.With(limited).Post("/message", cfg.Chat.HandleMessage)
				chat.Post("/reset", cfg.Chat.HandleReset)
				chat.Get("/history", cfg.Chat.HandleHistory)
				chat.With(limited).Get("/ws", cfg.Chat.HandleWebSocket)
			})
		}

		if cfg.Bookings != nil {
			api.Group(func(public chi.Router) {
				public.Use(limited)
				public.Post("/booking", cfg.Bookings.CreateBooking)
				public.Post("/verify", cfg.Bookings.Verify)
				public.Get("/booking/{secretCode}", cfg.Bookings.GetBooking)
				public.Delete("/booking/{secretCode}", cfg.Bookings.CancelBooking)
				public.Get("/availability", cfg.Bookings.Availability)
			})
		}

		if cfg.Admin != nil {
			api.Route("/admin", func(admin chi.Router) {
				admin.With(limited).Post("/login", cfg.Admin.Login)
				admin.Post("/logout", cfg.Admin.Logout)
				admin.Group(func(protected chi.Router) {
					protected.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
					protected.Get("/bookings", cfg.Admin.ListBookings)
					protected.Delete("/bookings/{id}", cfg.Admin.DeleteBooking)
					protected.Put("/bookings/{id}/status", cfg.Admin.UpdateStatus)
				})
			})
		}
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results["status"] = "degraded"
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, results)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
