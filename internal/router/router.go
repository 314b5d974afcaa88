package router

import (
	"net/http"
	"time"

	"github.com/dans3367/pigeonpost/internal/handler"
	"github.com/dans3367/pigeonpost/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// API v1 routes
	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Pigeonpost API v1","version":"0.1.0"}`))
	})

	// Submission endpoints: trusted internal services only, rate limited per
	// calling service
	auth := mw.ServiceAuth
	submitRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  100,
		Window: 1 * time.Minute,
		KeyFn:  middleware.ServiceRateKey,
	})

	mux.Handle("POST /api/v1/workflows", auth(submitRateLimit(http.HandlerFunc(h.SubmitWorkflow))))
	mux.Handle("GET /api/v1/workflows/{id}", auth(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("POST /api/v1/workflows/{id}/cancel", auth(http.HandlerFunc(h.CancelWorkflow)))

	mux.Handle("POST /api/v1/reminders", auth(submitRateLimit(http.HandlerFunc(h.CreateReminder))))
	mux.Handle("POST /api/v1/reminders/reschedule", auth(http.HandlerFunc(h.RescheduleReminders)))

	// Internal callback channel: HMAC-signed requests from workers
	signed := mw.InternalSignature
	mux.Handle("POST /internal/v1/emails/reconcile", signed(http.HandlerFunc(h.ReconcileEmail)))
	mux.Handle("POST /internal/v1/activities", signed(http.HandlerFunc(h.AppendActivity)))

	// Apply middleware stack
	var root http.Handler = mux

	// Request logging
	root = mw.Logger(root)

	// Timing
	root = mw.Timing(root)

	// Request ID
	root = mw.RequestID(root)

	// Panic recovery (outermost)
	root = mw.Recover(root)

	return root
}
