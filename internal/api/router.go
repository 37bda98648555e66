package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sentinelai/sentinel/internal/activity"
	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/blobstore"
	"github.com/sentinelai/sentinel/internal/config"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/repository"
)

// RouterConfig carries every dependency NewRouter needs to wire the full API
// surface. Assembled once in cmd/server/main.go's bootstrap sequence, after
// the metadata store, queue fabric, and blob store are all initialized.
type RouterConfig struct {
	DB      *gorm.DB
	AuthSvc *auth.AuthService

	Users     repository.UserRepository
	Jobs      repository.JobRepository
	Artifacts repository.ArtifactRepository
	Suspects  repository.SuspectRepository

	Queue    queue.Fabric
	Blobs    blobstore.Store
	Activity *activity.Recorder

	Config *config.Config
	Logger *zap.Logger

	// Secure controls the Secure flag on auth cookies. Mirrors
	// config.Config.SecureCookies, threaded separately so router tests can
	// exercise both values without building a full Config.
	Secure bool
}

// NewRouter builds the complete chi router: public auth routes, the
// authenticated job/case/user surface, and the admin-only DLQ and user
// management routes — structured the same three-tier way the teacher's
// router separates public, authenticated, and admin route groups.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Unauthenticated, outside /api/v1 — a scrape target, not an API
	// resource, matching where the teacher's pack exposes Prometheus
	// collectors (operator tooling, not client-facing).
	r.Handle("/metrics", promhttp.Handler())

	jwtMgr := cfg.AuthSvc.JWTManager()

	authHandler := NewAuthHandler(cfg.AuthSvc, cfg.Logger, cfg.Secure)
	userHandler := NewUserHandler(cfg.Users, cfg.Logger)
	jobHandler := NewJobHandler(
		cfg.DB, cfg.Jobs, cfg.Artifacts, cfg.Suspects, cfg.Queue, cfg.Blobs, cfg.Activity,
		cfg.Config.MaxFilesPerJob, cfg.Config.MaxFileSizeBytes, cfg.Logger,
	)
	statusStream := NewStatusStreamHandler(cfg.Jobs, cfg.Artifacts, cfg.Queue, jwtMgr, cfg.Logger)
	dlqHandler := NewDLQHandler(cfg.Queue, cfg.Activity, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)

			r.Get("/auth/oidc/login", authHandler.OIDCLogin)
			r.Get("/auth/oidc/callback", authHandler.OIDCCallback)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtMgr))

			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/users/me", userHandler.GetMe)
			r.Patch("/users/me", userHandler.UpdateMe)

			// Upload & jobs
			r.Post("/upload", jobHandler.Upload)
			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{supervisor_id}/{owner_id}/{job_uuid}", jobHandler.GetByID)
			r.Get("/jobs/{supervisor_id}/{owner_id}/{job_uuid}/results", jobHandler.GetResults)
			r.Get("/jobs/{supervisor_id}/{owner_id}/{job_uuid}/status/stream", statusStream.ServeStatusStream)

			// Cases
			r.Get("/cases", jobHandler.ListCases)
			r.Get("/cases/{case_name}/jobs", jobHandler.ListCaseJobs)

			// --- Admin-only routes ---
			r.Group(func(r chi.Router) {
				r.Use(RequireAnyRole("admin"))

				// User management
				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Get("/users/{id}", userHandler.GetByID)
				r.Patch("/users/{id}", userHandler.Update)
				r.Delete("/users/{id}", userHandler.Delete)

				// Dead-letter queue inspection and requeue
				r.Get("/admin/dlq/{queue}", dlqHandler.List)
				r.Post("/admin/dlq/{queue}/requeue", dlqHandler.Requeue)
			})
		})
	})

	return r
}
