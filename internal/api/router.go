package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/guardian/internal/capsuleservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *capsuleservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Licenses.
	r.Get("/licenses", h.ListLicenses)
	r.Post("/licenses", h.GenerateLicense)
	r.Get("/licenses/metrics", h.LicenseMetrics)
	r.Get("/licenses/{id}", h.GetLicense)
	r.Post("/licenses/{id}/verify", h.VerifyLicense)

	// License requests.
	r.Post("/license-requests", h.CreateLicenseRequest)
	r.Get("/license-requests/{id}", h.GetLicenseRequest)
	r.Post("/license-requests/{id}/process", h.ProcessLicenseRequest)

	// Capsules.
	r.Get("/capsules", h.ListCapsules)
	r.Get("/capsules/search", h.SearchCapsules)
	r.Get("/capsules/{capsuleID}", h.GetCapsule)
	r.Get("/capsules/{capsuleID}/access", h.CapsuleAccess)

	// Backups.
	r.Get("/backups", h.ListBackups)
	r.Post("/backups", h.UploadBackup)
	r.Post("/backups/snapshot", h.CreateBackup)
	r.Post("/backups/verify", h.VerifyBackup)

	// Restore.
	r.Post("/restore", h.Restore)
	r.Post("/restore/incremental", h.IncrementalRestore)
	r.Post("/restore/merge", h.MergeBackups)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
