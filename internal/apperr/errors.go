package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	ErrInvalidInput     = errors.New("invalid input")
	ErrIntegrity        = errors.New("integrity check failed")
	ErrExpired          = errors.New("expired")
	ErrAlreadyProcessed = errors.New("request already processed")

	ErrBackupNotFound = errors.New("backup not found")
	ErrRestoreFailed  = errors.New("restore failed")
)
