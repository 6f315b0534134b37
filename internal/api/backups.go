package api

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/starford/guardian/internal/restore"
)

const maxUploadBytes = 64 << 20 // 64 MB

// ListBackups handles GET /api/backups.
//
//	@Summary		List cataloged backup artifacts
//	@Tags			backups
//	@Produce		json
//	@Success		200	{object}	BackupListResponse
//	@Security		BearerAuth
//	@Router			/backups [get]
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListBackups(r.Context())
	if err != nil {
		writeError(w, "list backups", err)
		return
	}
	writeJSON(w, http.StatusOK, BackupListResponse{Backups: rows})
}

// UploadBackup handles POST /api/backups (multipart/form-data, field "file").
// An optional "name" field overrides the uploaded file name.
//
//	@Summary		Upload a backup artifact
//	@Tags			backups
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Backup artifact"
//	@Param			name	formData	string	false	"Artifact name"
//	@Success		201		{object}	index.BackupRow
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups [post]
func (h *Handler) UploadBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		// Only the base name of a client-supplied file name is honoured.
		name = path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	row, err := h.svc.ImportBackup(r.Context(), name, data)
	if err != nil {
		writeError(w, "upload backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// CreateBackup handles POST /api/backups/snapshot.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	row, err := h.svc.CreateBackup(r.Context(), req.Name)
	if err != nil {
		writeError(w, "create backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// VerifyBackup handles POST /api/backups/verify.
//
//	@Summary		Verify a backup artifact without restoring it
//	@Tags			backups
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BackupPathRequest	true	"Artifact path"
//	@Success		200		{object}	restore.VerifyResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/verify [post]
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	var req BackupPathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.VerifyBackup(r.Context(), req.Path)
	if err != nil {
		writeError(w, "verify backup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Restore handles POST /api/restore.
//
//	@Summary		Restore capsules from one backup
//	@Tags			restore
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RestoreRequest	true	"Restore options"
//	@Success		200		{object}	restore.Result
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	RestoreErrorResponse
//	@Security		BearerAuth
//	@Router			/restore [post]
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Restore(r.Context(), req)
	writeRestore(w, "restore", res, err)
}

// IncrementalRestore handles POST /api/restore/incremental.
func (h *Handler) IncrementalRestore(w http.ResponseWriter, r *http.Request) {
	var req IncrementalRestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.IncrementalRestore(r.Context(), req.BackupPath, req.Since, req.Options)
	writeRestore(w, "incremental restore", res, err)
}

// MergeBackups handles POST /api/restore/merge.
func (h *Handler) MergeBackups(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("paths is required"))
		return
	}
	res, err := h.svc.MergeBackups(r.Context(), req.Paths, req.Options)
	writeRestore(w, "merge backups", res, err)
}

// writeRestore reports a restore outcome. A failed run that still produced a
// partial result (for example a recovery point) returns it with the error.
func writeRestore(w http.ResponseWriter, op string, res *restore.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if res == nil {
		writeError(w, op, err)
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", msg))
		msg = "internal error"
	}
	writeJSON(w, status, RestoreErrorResponse{Error: msg, Result: res})
}
