package license

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
)

// LicenseRepository persists issued licenses.
type LicenseRepository interface {
	// SaveLicense inserts or replaces l.
	SaveLicense(ctx context.Context, l *models.CapsuleLicense) error
	// GetLicense returns apperr.ErrNotFound when id is unknown.
	GetLicense(ctx context.Context, id string) (*models.CapsuleLicense, error)
	// ListLicenses returns every license ordered by issue time, then id.
	ListLicenses(ctx context.Context) ([]*models.CapsuleLicense, error)
	// LicensesByCapsule returns the licenses of one capsule in ListLicenses order.
	LicensesByCapsule(ctx context.Context, capsuleID string) ([]*models.CapsuleLicense, error)
}

// RequestRepository persists license requests.
type RequestRepository interface {
	// SaveRequest inserts r. apperr.ErrAlreadyExists is returned for a duplicate id.
	SaveRequest(ctx context.Context, r *models.LicenseRequest) error
	// GetRequest returns apperr.ErrNotFound when id is unknown.
	GetRequest(ctx context.Context, id string) (*models.LicenseRequest, error)
	// UpdateRequest replaces r only if the stored status still equals expected,
	// returning apperr.ErrConflict otherwise.
	UpdateRequest(ctx context.Context, r *models.LicenseRequest, expected models.RequestStatus) error
}

// MemoryStore is an in-process LicenseRepository and RequestRepository.
// Records are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]*models.CapsuleLicense
	requests map[string]*models.LicenseRequest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]*models.CapsuleLicense),
		requests: make(map[string]*models.LicenseRequest),
	}
}

// SaveLicense implements LicenseRepository.
func (s *MemoryStore) SaveLicense(_ context.Context, l *models.CapsuleLicense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[l.ID] = cloneLicense(l)
	return nil
}

// GetLicense implements LicenseRepository.
func (s *MemoryStore) GetLicense(_ context.Context, id string) (*models.CapsuleLicense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[id]
	if !ok {
		return nil, fmt.Errorf("license %s: %w", id, apperr.ErrNotFound)
	}
	return cloneLicense(l), nil
}

// ListLicenses implements LicenseRepository.
func (s *MemoryStore) ListLicenses(_ context.Context) ([]*models.CapsuleLicense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CapsuleLicense, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, cloneLicense(l))
	}
	SortLicenses(out)
	return out, nil
}

// LicensesByCapsule implements LicenseRepository.
func (s *MemoryStore) LicensesByCapsule(ctx context.Context, capsuleID string) ([]*models.CapsuleLicense, error) {
	all, err := s.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if l.CapsuleID == capsuleID {
			out = append(out, l)
		}
	}
	return out, nil
}

// SaveRequest implements RequestRepository.
func (s *MemoryStore) SaveRequest(_ context.Context, r *models.LicenseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("request %s: %w", r.ID, apperr.ErrAlreadyExists)
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// GetRequest implements RequestRepository.
func (s *MemoryStore) GetRequest(_ context.Context, id string) (*models.LicenseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return cloneRequest(r), nil
}

// UpdateRequest implements RequestRepository.
func (s *MemoryStore) UpdateRequest(_ context.Context, r *models.LicenseRequest, expected models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", r.ID, apperr.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("request %s is %s: %w", r.ID, cur.Status, apperr.ErrConflict)
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// SortLicenses orders licenses by issue time, then id.
func SortLicenses(ls []*models.CapsuleLicense) {
	sort.SliceStable(ls, func(i, j int) bool {
		if !ls[i].IssuedAt.Equal(ls[j].IssuedAt) {
			return ls[i].IssuedAt.Before(ls[j].IssuedAt)
		}
		return ls[i].ID < ls[j].ID
	})
}

func cloneLicense(l *models.CapsuleLicense) *models.CapsuleLicense {
	c := *l
	c.Terms.TerritorialLimits = slices.Clone(l.Terms.TerritorialLimits)
	c.Terms.UsageRestrictions = slices.Clone(l.Terms.UsageRestrictions)
	c.Verification.VerifiedBy = slices.Clone(l.Verification.VerifiedBy)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.Verification.VerificationDate != nil {
		t := *l.Verification.VerificationDate
		c.Verification.VerificationDate = &t
	}
	if l.Chain != nil {
		ch := *l.Chain
		c.Chain = &ch
	}
	return &c
}

func cloneRequest(r *models.LicenseRequest) *models.LicenseRequest {
	c := *r
	if r.Duration != nil {
		d := *r.Duration
		c.Duration = &d
	}
	if r.OfferAmount != nil {
		o := *r.OfferAmount
		c.OfferAmount = &o
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
