package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jobchat/internal/chat"
	myMiddleware "jobchat/internal/middleware"
	"jobchat/internal/notification"
	"jobchat/internal/user"
)

// Handlers groups everything the router mounts. Users and Notifications may
// be nil, in which case their routes are not registered.
type Handlers struct {
	Auth          *myMiddleware.AuthMiddleware
	Users         *user.Handler
	Chat          *chat.Handler
	Notifications *notification.Handler
	Health        http.HandlerFunc
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, allowedOrigins []string, h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(myMiddleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(myMiddleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if h.Health != nil {
		r.Get("/health", h.Health)
	}

	// Public routes
	if h.Users != nil {
		r.Post("/register", h.Users.Register)
		r.Post("/login", h.Users.Login)
	}

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Handle)

		if h.Users != nil {
			r.Get("/api/users/search", h.Users.SearchUsers)
		}

		// Websockets
		r.Get("/ws/chat/{issue_id}/{job_id}", h.Chat.ServeGroupWs)
		r.Get("/ws/private/{kind}/{id}", h.Chat.ServePrivateWs)

		// Chat history and private messages
		r.Get("/api/chat/group/{issue_id}/{job_id}/messages", h.Chat.GroupHistory)
		r.Get("/api/chat/{kind}/{id}/messages", h.Chat.PrivateMessages)
		r.Post("/api/chat/{kind}/{id}/messages", h.Chat.SendPrivate)
		r.Get("/api/chat/{kind}/{id}/conversations", h.Chat.Conversations)

		if h.Notifications != nil {
			r.Get("/api/notifications", h.Notifications.List)
			r.Get("/api/notifications/unread-count", h.Notifications.UnreadCount)
			r.Post("/api/notifications/{id}/mark-read", h.Notifications.MarkRead)
			r.Post("/api/notifications/mark-all-read", h.Notifications.MarkAllRead)
		}
	})

	return r
}
