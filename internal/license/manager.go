package license

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/guardian/internal/activity"
	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
)

// Issue and recommendation messages reported by VerifyLicense.
const (
	IssueNotFound          = "License not found"
	IssueExpired           = "License has expired"
	IssueHashMismatch      = "License hash mismatch - possible tampering"
	RecommendVerification  = "License has not been verified by multiple parties"
	RecommendLowCompliance = "Low compliance score - consider additional verification"
)

const (
	minVerifiers           = 2
	lowComplianceThreshold = 70
	defaultGriefScore      = 5
	defaultTruthConfidence = 75
)

// Process outcome messages.
const (
	MsgRequestNotFound  = "License request not found"
	MsgAlreadyProcessed = "Request already processed"
	MsgApproved         = "License request approved"
	MsgRejected         = "License request rejected"
)

// CapsuleLookup resolves capsule snapshots so approvals can use the
// capsule's grief score.
type CapsuleLookup interface {
	Get(ctx context.Context, id string) (models.CapsuleBackup, error)
}

// Manager issues and verifies licenses and processes license requests.
type Manager struct {
	licenses LicenseRepository
	requests RequestRepository
	capsules CapsuleLookup
	activity activity.Logger
	now      func() time.Time

	defaultGrief float64
	defaultTruth float64

	// mu serializes read-modify-write sequences (verify, process).
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for issue and expiry times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithActivity sets the activity logger.
func WithActivity(l activity.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.activity = l
		}
	}
}

// WithCapsuleLookup sets the capsule source consulted on approval.
func WithCapsuleLookup(c CapsuleLookup) Option {
	return func(m *Manager) { m.capsules = c }
}

// WithDefaults sets the grief score and truth confidence used when an
// approved request's capsule is unknown.
func WithDefaults(griefScore, truthConfidence float64) Option {
	return func(m *Manager) {
		m.defaultGrief = griefScore
		m.defaultTruth = truthConfidence
	}
}

// NewManager creates a Manager backed by the given repositories.
func NewManager(licenses LicenseRepository, requests RequestRepository, opts ...Option) *Manager {
	m := &Manager{
		licenses:     licenses,
		requests:     requests,
		activity:     activity.Nop{},
		now:          time.Now,
		defaultGrief: defaultGriefScore,
		defaultTruth: defaultTruthConfidence,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CustomTerms override preset values. Nil fields keep the preset.
type CustomTerms struct {
	RoyaltyRate       *float64            `json:"royalty_rate,omitempty"`
	ExclusivityPeriod *int                `json:"exclusivity_period,omitempty"`
	TerritorialLimits []string            `json:"territorial_limits,omitempty"`
	UsageRestrictions []string            `json:"usage_restrictions,omitempty"`
	Permissions       *models.Permissions `json:"permissions,omitempty"`
}

// GenerateInput describes a license to issue.
type GenerateInput struct {
	CapsuleID       string             `json:"capsule_id"`
	Author          models.Author      `json:"author"`
	GriefScore      float64            `json:"grief_score"`
	TruthConfidence float64            `json:"truth_confidence"`
	LicenseType     models.LicenseType `json:"license_type,omitempty"`
	LicensedTo      string             `json:"licensed_to,omitempty"`
	Duration        *int               `json:"duration,omitempty"` // days
	CustomTerms     *CustomTerms       `json:"custom_terms,omitempty"`
}

// Validate validates the input.
func (in *GenerateInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.CapsuleID, validation.Required),
		validation.Field(&in.Author, validation.By(validateAuthor)),
		validation.Field(&in.LicenseType, validation.In(licenseTypeValues()...)),
		validation.Field(&in.TruthConfidence, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&in.Duration, validation.NilOrNotEmpty, validation.Min(1)),
	)
}

func validateAuthor(value any) error {
	a, _ := value.(models.Author)
	return validation.Validate(strings.TrimSpace(a.Name), validation.Required.Error("name is required"))
}

func licenseTypeValues() []any {
	out := make([]any, len(models.LicenseTypes))
	for i, t := range models.LicenseTypes {
		out[i] = t
	}
	return out
}

// GenerateLicense issues and stores a new license.
func (m *Manager) GenerateLicense(ctx context.Context, in GenerateInput) (*models.CapsuleLicense, error) {
	l, err := m.buildLicense(in)
	if err != nil {
		return nil, err
	}
	if err := m.licenses.SaveLicense(ctx, l); err != nil {
		return nil, fmt.Errorf("license: save: %w", err)
	}
	m.logIssued(ctx, l)
	return l, nil
}

func (m *Manager) buildLicense(in GenerateInput) (*models.CapsuleLicense, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if in.LicenseType == "" {
		in.LicenseType = models.LicenseStandard
	}

	issuedAt := m.now().UTC()
	hash, err := Hash(in.CapsuleID, in.Author, in.GriefScore, issuedAt)
	if err != nil {
		return nil, err
	}

	preset := PresetFor(in.LicenseType)
	l := &models.CapsuleLicense{
		ID:              newID("license", issuedAt),
		CapsuleID:       in.CapsuleID,
		Author:          in.Author,
		LicensedTo:      in.LicensedTo,
		LicenseType:     in.LicenseType,
		IssuedAt:        issuedAt,
		GriefScore:      in.GriefScore,
		TruthConfidence: in.TruthConfidence,
		LicenseHash:     hash,
		Permissions:     preset.Permissions,
		Terms:           models.LicenseTerms{RoyaltyRate: preset.RoyaltyRate},
		Verification: models.Verification{
			VerifiedBy:      []string{},
			ComplianceScore: ComplianceScore(in.GriefScore, in.TruthConfidence),
		},
	}
	if in.Duration != nil {
		exp := issuedAt.AddDate(0, 0, *in.Duration)
		l.ExpiresAt = &exp
	}
	if ct := in.CustomTerms; ct != nil {
		if ct.RoyaltyRate != nil {
			l.Terms.RoyaltyRate = *ct.RoyaltyRate
		}
		if ct.ExclusivityPeriod != nil {
			l.Terms.ExclusivityPeriod = *ct.ExclusivityPeriod
		}
		if ct.TerritorialLimits != nil {
			l.Terms.TerritorialLimits = slices.Clone(ct.TerritorialLimits)
		}
		if ct.UsageRestrictions != nil {
			l.Terms.UsageRestrictions = slices.Clone(ct.UsageRestrictions)
		}
		if ct.Permissions != nil {
			l.Permissions = *ct.Permissions
		}
	}
	return l, nil
}

// VerifyResult is the outcome of VerifyLicense. Valid is true iff Issues is empty.
type VerifyResult struct {
	Valid           bool                   `json:"valid"`
	License         *models.CapsuleLicense `json:"license,omitempty"`
	Issues          []string               `json:"issues,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`

	expired  bool
	tampered bool
}

// Err returns the blocking conditions found as apperr.ErrExpired and
// apperr.ErrIntegrity, or apperr.ErrNotFound for an unknown license.
func (r *VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	if r.License == nil {
		return apperr.ErrNotFound
	}
	var errs []error
	if r.tampered {
		errs = append(errs, apperr.ErrIntegrity)
	}
	if r.expired {
		errs = append(errs, apperr.ErrExpired)
	}
	return errors.Join(errs...)
}

// verifyOutcome labels a verification for license.verified events.
func verifyOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, apperr.ErrIntegrity):
		return "tampered"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	default:
		return "invalid"
	}
}

// VerifyLicense checks expiry and hash integrity of a stored license. When
// verifier is set and no issue is found, it is recorded as an attestation.
// Repeated calls with the same verifier do not change the license.
func (m *Manager) VerifyLicense(ctx context.Context, id, verifier string) (*VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.licenses.GetLicense(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return &VerifyResult{Issues: []string{IssueNotFound}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("license: get: %w", err)
	}

	now := m.now()
	res := &VerifyResult{License: l}
	if l.Expired(now) {
		res.expired = true
		res.Issues = append(res.Issues, IssueExpired)
	}
	hash, err := HashOf(l)
	if err != nil {
		return nil, err
	}
	if hash != l.LicenseHash {
		res.tampered = true
		res.Issues = append(res.Issues, IssueHashMismatch)
	}
	res.Valid = len(res.Issues) == 0

	verifier = strings.TrimSpace(verifier)
	if res.Valid && verifier != "" && !slices.Contains(l.Verification.VerifiedBy, verifier) {
		ts := now.UTC()
		l.Verification.VerifiedBy = append(l.Verification.VerifiedBy, verifier)
		l.Verification.VerificationDate = &ts
		if len(l.Verification.VerifiedBy) >= minVerifiers {
			l.Verification.IsVerified = true
		}
		if err := m.licenses.SaveLicense(ctx, l); err != nil {
			return nil, fmt.Errorf("license: save: %w", err)
		}
	}

	if !l.Verification.IsVerified {
		res.Recommendations = append(res.Recommendations, RecommendVerification)
	}
	if l.Verification.ComplianceScore < lowComplianceThreshold {
		res.Recommendations = append(res.Recommendations, RecommendLowCompliance)
	}

	m.activity.Log(ctx, verifier, activity.LicenseVerified, map[string]any{
		"license_id": l.ID,
		"capsule_id": l.CapsuleID,
		"valid":      res.Valid,
		"outcome":    verifyOutcome(res.Err()),
		"verified":   l.Verification.IsVerified,
	})
	return res, nil
}

// RequestInput describes a license request.
type RequestInput struct {
	CapsuleID   string             `json:"capsule_id"`
	RequestedBy string             `json:"requested_by"`
	LicenseType models.LicenseType `json:"license_type"`
	IntendedUse string             `json:"intended_use"`
	Duration    *int               `json:"duration,omitempty"`
	OfferAmount *float64           `json:"offer_amount,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// Validate validates the input.
func (in *RequestInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.CapsuleID, validation.Required),
		validation.Field(&in.RequestedBy, validation.Required),
		validation.Field(&in.LicenseType, validation.Required, validation.In(licenseTypeValues()...)),
		validation.Field(&in.Duration, validation.NilOrNotEmpty, validation.Min(1)),
	)
}

// CreateLicenseRequest stores a new pending request.
func (m *Manager) CreateLicenseRequest(ctx context.Context, in RequestInput) (*models.LicenseRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	now := m.now().UTC()
	r := &models.LicenseRequest{
		ID:          newID("request", now),
		CapsuleID:   in.CapsuleID,
		RequestedBy: in.RequestedBy,
		LicenseType: in.LicenseType,
		IntendedUse: in.IntendedUse,
		Duration:    in.Duration,
		OfferAmount: in.OfferAmount,
		Message:     in.Message,
		CreatedAt:   now,
		Status:      models.RequestPending,
	}
	if err := m.requests.SaveRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("license: save request: %w", err)
	}
	m.activity.Log(ctx, r.RequestedBy, activity.LicenseRequestCreated, map[string]any{
		"request_id":   r.ID,
		"capsule_id":   r.CapsuleID,
		"license_type": string(r.LicenseType),
	})
	return r, nil
}

// Action is a decision on a license request.
type Action string

// Request actions.
const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ProcessResult is the outcome of ProcessLicenseRequest.
type ProcessResult struct {
	Success bool                   `json:"success"`
	License *models.CapsuleLicense `json:"license,omitempty"`
	Request *models.LicenseRequest `json:"request,omitempty"`
	Message string                 `json:"message"`
}

// Err maps an unsuccessful outcome to apperr.ErrNotFound or
// apperr.ErrAlreadyProcessed. Other outcomes return nil.
func (r *ProcessResult) Err() error {
	switch r.Message {
	case MsgRequestNotFound:
		return apperr.ErrNotFound
	case MsgAlreadyProcessed:
		return apperr.ErrAlreadyProcessed
	}
	return nil
}

// ProcessLicenseRequest approves or rejects a pending request. A request
// transitions exactly once; later calls report MsgAlreadyProcessed.
func (m *Manager) ProcessLicenseRequest(ctx context.Context, requestID string, action Action, authorAddress string) (*ProcessResult, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: unknown action %q", apperr.ErrInvalidInput, action)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.requests.GetRequest(ctx, requestID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &ProcessResult{Message: MsgRequestNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("license: get request: %w", err)
	}
	if r.Status != models.RequestPending {
		return &ProcessResult{Request: r, Message: MsgAlreadyProcessed}, nil
	}

	now := m.now().UTC()
	r.ProcessedAt = &now
	r.ProcessedBy = authorAddress

	if action == ActionReject {
		r.Status = models.RequestRejected
		if err := m.requests.UpdateRequest(ctx, r, models.RequestPending); err != nil {
			return m.updateFailed(r, err)
		}
		m.activity.Log(ctx, authorAddress, activity.LicenseRequestRejected, map[string]any{
			"request_id": r.ID,
			"capsule_id": r.CapsuleID,
		})
		return &ProcessResult{Success: true, Request: r, Message: MsgRejected}, nil
	}

	grief, truth := m.capsuleSignals(ctx, r.CapsuleID)
	l, err := m.buildLicense(GenerateInput{
		CapsuleID:       r.CapsuleID,
		Author:          models.Author{Name: authorAddress, WalletAddress: authorAddress},
		GriefScore:      grief,
		TruthConfidence: truth,
		LicenseType:     r.LicenseType,
		LicensedTo:      r.RequestedBy,
		Duration:        r.Duration,
	})
	if err != nil {
		return nil, err
	}

	r.Status = models.RequestApproved
	r.LicenseID = l.ID
	if err := m.requests.UpdateRequest(ctx, r, models.RequestPending); err != nil {
		return m.updateFailed(r, err)
	}
	if err := m.licenses.SaveLicense(ctx, l); err != nil {
		return nil, m.reopen(ctx, r, fmt.Errorf("license: save: %w", err))
	}
	m.logIssued(ctx, l)
	m.activity.Log(ctx, authorAddress, activity.LicenseRequestApproved, map[string]any{
		"request_id": r.ID,
		"capsule_id": r.CapsuleID,
		"license_id": l.ID,
	})
	return &ProcessResult{Success: true, License: l, Request: r, Message: MsgApproved}, nil
}

// reopen moves an approved request whose license could not be stored back
// to pending so the approval can be retried.
func (m *Manager) reopen(ctx context.Context, r *models.LicenseRequest, cause error) error {
	r.Status = models.RequestPending
	r.LicenseID = ""
	r.ProcessedAt = nil
	r.ProcessedBy = ""
	if err := m.requests.UpdateRequest(ctx, r, models.RequestApproved); err != nil {
		return errors.Join(cause, fmt.Errorf("license: reopen request %s: %w", r.ID, err))
	}
	return cause
}

func (m *Manager) updateFailed(r *models.LicenseRequest, err error) (*ProcessResult, error) {
	if errors.Is(err, apperr.ErrConflict) {
		return &ProcessResult{Request: r, Message: MsgAlreadyProcessed}, nil
	}
	return nil, fmt.Errorf("license: update request: %w", err)
}

func (m *Manager) capsuleSignals(ctx context.Context, capsuleID string) (grief, truth float64) {
	grief, truth = m.defaultGrief, m.defaultTruth
	if m.capsules == nil {
		return grief, truth
	}
	c, err := m.capsules.Get(ctx, capsuleID)
	if err != nil {
		return grief, truth
	}
	return c.GriefScore, truth
}

// GetLicense returns a stored license.
func (m *Manager) GetLicense(ctx context.Context, id string) (*models.CapsuleLicense, error) {
	return m.licenses.GetLicense(ctx, id)
}

// GetRequest returns a stored license request.
func (m *Manager) GetRequest(ctx context.Context, id string) (*models.LicenseRequest, error) {
	return m.requests.GetRequest(ctx, id)
}

// ListLicenses returns every stored license ordered by issue time.
func (m *Manager) ListLicenses(ctx context.Context) ([]*models.CapsuleLicense, error) {
	return m.licenses.ListLicenses(ctx)
}

// GetCapsuleLicenses returns every license issued for capsuleID.
func (m *Manager) GetCapsuleLicenses(ctx context.Context, capsuleID string) ([]*models.CapsuleLicense, error) {
	return m.licenses.LicensesByCapsule(ctx, capsuleID)
}

// GetUserLicenses returns every license held by user as licensee or author.
func (m *Manager) GetUserLicenses(ctx context.Context, user string) ([]*models.CapsuleLicense, error) {
	all, err := m.licenses.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.CapsuleLicense, 0)
	for _, l := range all {
		if l.HeldBy(user) {
			out = append(out, l)
		}
	}
	return out, nil
}

// HasValidLicense reports whether user holds an unexpired license for
// capsuleID. Verification state and compliance are not considered.
func (m *Manager) HasValidLicense(ctx context.Context, capsuleID, user string) (bool, error) {
	ls, err := m.licenses.LicensesByCapsule(ctx, capsuleID)
	if err != nil {
		return false, err
	}
	now := m.now()
	for _, l := range ls {
		if l.HeldBy(user) && !l.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) logIssued(ctx context.Context, l *models.CapsuleLicense) {
	m.activity.Log(ctx, l.Author.Name, activity.LicenseIssued, map[string]any{
		"license_id":   l.ID,
		"capsule_id":   l.CapsuleID,
		"license_type": string(l.LicenseType),
		"licensed_to":  l.LicensedTo,
	})
}

func newID(prefix string, at time.Time) string {
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%d_%s", prefix, at.UnixMilli(), rnd[:12])
}
