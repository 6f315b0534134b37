package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/guardian/internal/capsuleservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *capsuleservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *capsuleservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListLicenses handles GET /api/licenses.
//
//	@Summary		List licenses, optionally by capsule and holder
//	@Tags			licenses
//	@Produce		json
//	@Param			capsule_id	query		string	false	"Filter by capsule"
//	@Param			user		query		string	false	"Filter by licensee or author"
//	@Success		200			{object}	LicenseListResponse
//	@Security		BearerAuth
//	@Router			/licenses [get]
func (h *Handler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ls, err := h.svc.ListLicenses(r.Context(), q.Get("capsule_id"), q.Get("user"))
	if err != nil {
		writeError(w, "list licenses", err)
		return
	}
	writeJSON(w, http.StatusOK, LicenseListResponse{Licenses: ls, Total: len(ls)})
}

// GenerateLicense handles POST /api/licenses.
//
//	@Summary		Issue a license for a capsule
//	@Tags			licenses
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateLicenseRequest	true	"License to issue"
//	@Success		201		{object}	models.CapsuleLicense
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/licenses [post]
func (h *Handler) GenerateLicense(w http.ResponseWriter, r *http.Request) {
	var req GenerateLicenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := h.svc.GenerateLicense(r.Context(), req)
	if err != nil {
		writeError(w, "generate license", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetLicense handles GET /api/licenses/{id}.
//
//	@Summary		Get a license by id
//	@Tags			licenses
//	@Produce		json
//	@Param			id	path		string	true	"License id"
//	@Success		200	{object}	models.CapsuleLicense
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/licenses/{id} [get]
func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get license", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// VerifyLicense handles POST /api/licenses/{id}/verify.
// The outcome is always reported in the body; an unknown license is a
// result with Valid=false, not a 404.
//
//	@Summary		Verify a license and record an attestation
//	@Tags			licenses
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"License id"
//	@Param			body	body		VerifyLicenseRequest	false	"Verifier identity"
//	@Success		200		{object}	license.VerifyResult
//	@Security		BearerAuth
//	@Router			/licenses/{id}/verify [post]
func (h *Handler) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	var req VerifyLicenseRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.VerifyLicense(r.Context(), chi.URLParam(r, "id"), req.Verifier)
	if err != nil {
		writeError(w, "verify license", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LicenseMetrics handles GET /api/licenses/metrics.
//
//	@Summary		Aggregate license statistics
//	@Tags			licenses
//	@Produce		json
//	@Success		200	{object}	license.Metrics
//	@Security		BearerAuth
//	@Router			/licenses/metrics [get]
func (h *Handler) LicenseMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.LicenseMetrics(r.Context())
	if err != nil {
		writeError(w, "license metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateLicenseRequest handles POST /api/license-requests.
//
//	@Summary		File a license request
//	@Tags			license-requests
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateLicenseRequestBody	true	"Request details"
//	@Success		201		{object}	models.LicenseRequest
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/license-requests [post]
func (h *Handler) CreateLicenseRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	lr, err := h.svc.CreateLicenseRequest(r.Context(), req)
	if err != nil {
		writeError(w, "create license request", err)
		return
	}
	writeJSON(w, http.StatusCreated, lr)
}

// GetLicenseRequest handles GET /api/license-requests/{id}.
func (h *Handler) GetLicenseRequest(w http.ResponseWriter, r *http.Request) {
	lr, err := h.svc.GetLicenseRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get license request", err)
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

// ProcessLicenseRequest handles POST /api/license-requests/{id}/process.
//
//	@Summary		Approve or reject a pending license request
//	@Tags			license-requests
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Request id"
//	@Param			body	body		ProcessRequestBody	true	"Decision"
//	@Success		200		{object}	license.ProcessResult
//	@Failure		404		{object}	license.ProcessResult
//	@Failure		409		{object}	license.ProcessResult
//	@Security		BearerAuth
//	@Router			/license-requests/{id}/process [post]
func (h *Handler) ProcessLicenseRequest(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AuthorAddress) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("author_address is required"))
		return
	}
	res, err := h.svc.ProcessLicenseRequest(r.Context(), chi.URLParam(r, "id"), req.Action, req.AuthorAddress)
	if err != nil {
		writeError(w, "process license request", err)
		return
	}
	status := http.StatusOK
	if perr := res.Err(); perr != nil {
		status = statusFor(perr)
	}
	writeJSON(w, status, res)
}

// ListCapsules handles GET /api/capsules.
func (h *Handler) ListCapsules(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.ListCapsules(r.Context())
	if err != nil {
		writeError(w, "list capsules", err)
		return
	}
	writeJSON(w, http.StatusOK, CapsuleListResponse{Capsules: cs, Total: len(cs)})
}

// GetCapsule handles GET /api/capsules/{capsuleID}.
func (h *Handler) GetCapsule(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCapsule(r.Context(), chi.URLParam(r, "capsuleID"))
	if err != nil {
		writeError(w, "get capsule", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// SearchCapsules handles GET /api/capsules/search.
//
//	@Summary		Full-text search across capsules
//	@Tags			capsules
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/capsules/search [get]
func (h *Handler) SearchCapsules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.SearchCapsules(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search capsules", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// CapsuleAccess handles GET /api/capsules/{capsuleID}/access.
//
//	@Summary		Check whether a user holds a valid license
//	@Tags			capsules
//	@Produce		json
//	@Param			capsuleID	path		string	true	"Capsule id"
//	@Param			user		query		string	true	"User identity"
//	@Success		200			{object}	AccessResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/capsules/{capsuleID}/access [get]
func (h *Handler) CapsuleAccess(w http.ResponseWriter, r *http.Request) {
	capsuleID := chi.URLParam(r, "capsuleID")
	user := r.URL.Query().Get("user")
	if user == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'user' is required"))
		return
	}
	ok, err := h.svc.HasValidLicense(r.Context(), capsuleID, user)
	if err != nil {
		writeError(w, "capsule access", err)
		return
	}
	writeJSON(w, http.StatusOK, AccessResponse{CapsuleID: capsuleID, User: user, Valid: ok})
}
