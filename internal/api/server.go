package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/mailcore/internal/api/handler"
	mw "github.com/edvin/mailcore/internal/api/middleware"
	"github.com/edvin/mailcore/internal/core"
)

// Pinger is the readiness probe of the database. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	pool           Pinger
	temporalClient temporalclient.Client
}

// NewServer builds the HTTP adapter over services. temporalClient may be nil,
// in which case readiness only checks the database.
func NewServer(logger zerolog.Logger, pool Pinger, temporalClient temporalclient.Client, services *core.Services) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		pool:           pool,
		temporalClient: temporalClient,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1/organizations", func(r chi.Router) {
		org := handler.NewOrganization(s.services.Organization, s.services.Backfill)
		r.Post("/", org.Create)
		r.Get("/", org.List)

		r.Route("/{orgID}", func(r chi.Router) {
			r.Get("/", org.Get)
			r.Put("/quotas", org.UpdateQuotas)
			r.Post("/suspend", org.Suspend)
			r.Post("/activate", org.Activate)
			r.Post("/backfill", org.Backfill)

			mail := handler.NewMail(s.services.Mail, s.services.Assignment, s.services.Recipient)
			r.Delete("/mails/{mailID}", mail.PermanentDelete)
			r.Get("/mails/{mailID}/recipients", mail.Recipients)

			mailbox := handler.NewMailbox(s.services.Mailbox)
			r.Post("/mailboxes", mailbox.Provision)
			r.Get("/mailboxes", mailbox.List)

			r.Route("/mailboxes/{userID}", func(r chi.Router) {
				r.Get("/", mailbox.Get)
				r.Put("/active", mailbox.SetActive)

				folder := handler.NewFolder(s.services.Folder)
				r.Get("/folders", folder.List)
				r.Post("/folders", folder.Create)
				r.Put("/folders/{folderID}", folder.Rename)
				r.Delete("/folders/{folderID}", folder.Delete)
				r.Get("/folders/{folderID}/mails", mail.ListFolder)

				r.Post("/drafts", mail.CreateDraft)
				r.Put("/drafts/{mailID}", mail.UpdateDraft)
				r.Post("/drafts/{mailID}/send", mail.Send)
				r.Post("/drafts/{mailID}/fail", mail.Fail)

				r.Get("/mails/{mailID}", mail.Get)
				r.Post("/mails/{mailID}/trash", mail.Trash)
				r.Post("/mails/{mailID}/restore", mail.Restore)
				r.Post("/mails/{mailID}/read", mail.MarkRead)
				r.Post("/mails/{mailID}/unread", mail.MarkUnread)
				r.Post("/mails/{mailID}/move", mail.Move)

				r.Post("/trash/empty", mail.EmptyTrash)
			})
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if s.temporalClient != nil {
		if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
			checks["temporal"] = err.Error()
			healthy = false
		} else {
			checks["temporal"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
