// Package models defines the domain types for GuardianChain licensing and backups.
package models

import "time"

// LicenseType classifies the rights granted by a license.
type LicenseType string

// License types.
const (
	LicenseStandard        LicenseType = "standard"
	LicenseCommercial      LicenseType = "commercial"
	LicenseExclusive       LicenseType = "exclusive"
	LicenseCreativeCommons LicenseType = "creative_commons"
)

// LicenseTypes lists every supported license type in display order.
var LicenseTypes = []LicenseType{LicenseStandard, LicenseCommercial, LicenseExclusive, LicenseCreativeCommons}

// Valid reports whether t is a known license type.
func (t LicenseType) Valid() bool {
	switch t {
	case LicenseStandard, LicenseCommercial, LicenseExclusive, LicenseCreativeCommons:
		return true
	}
	return false
}

// Author is the rights holder of a capsule.
type Author struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// Permissions describes what a licensee may do with a capsule.
type Permissions struct {
	Redistribute  bool `json:"redistribute"`
	CommercialUse bool `json:"commercial_use"`
	Modification  bool `json:"modification"`
	Attribution   bool `json:"attribution"`
}

// LicenseTerms are the commercial terms attached to a license.
type LicenseTerms struct {
	RoyaltyRate       float64  `json:"royalty_rate"`
	ExclusivityPeriod int      `json:"exclusivity_period,omitempty"` // days
	TerritorialLimits []string `json:"territorial_limits,omitempty"`
	UsageRestrictions []string `json:"usage_restrictions,omitempty"`
}

// Verification records multi-party attestation of a license.
type Verification struct {
	IsVerified       bool       `json:"is_verified"`
	VerifiedBy       []string   `json:"verified_by"`
	VerificationDate *time.Time `json:"verification_date,omitempty"`
	ComplianceScore  int        `json:"compliance_score"`
}

// ChainRecord links a license to an on-chain mint. Populated after issuance.
type ChainRecord struct {
	TransactionHash string `json:"transaction_hash,omitempty"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
}

// CapsuleLicense grants rights over one capsule to one licensee.
type CapsuleLicense struct {
	ID              string       `json:"id"`
	CapsuleID       string       `json:"capsule_id"`
	Author          Author       `json:"author"`
	LicensedTo      string       `json:"licensed_to,omitempty"`
	LicenseType     LicenseType  `json:"license_type"`
	IssuedAt        time.Time    `json:"issued_at"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	GriefScore      float64      `json:"grief_score"`
	TruthConfidence float64      `json:"truth_confidence"`
	LicenseHash     string       `json:"license_hash"`
	Permissions     Permissions  `json:"permissions"`
	Terms           LicenseTerms `json:"terms"`
	Verification    Verification `json:"verification"`
	Chain           *ChainRecord `json:"chain,omitempty"`
}

// Expired reports whether the license has an expiry at or before now.
func (l *CapsuleLicense) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// HeldBy reports whether user is the licensee or the rights holder.
func (l *CapsuleLicense) HeldBy(user string) bool {
	if user == "" {
		return false
	}
	return l.LicensedTo == user || l.Author.Name == user || l.Author.WalletAddress == user
}

// RequestStatus is the lifecycle state of a license request.
type RequestStatus string

// Request statuses.
const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// LicenseRequest is a licensee's petition to obtain a license.
type LicenseRequest struct {
	ID          string        `json:"id"`
	CapsuleID   string        `json:"capsule_id"`
	RequestedBy string        `json:"requested_by"`
	LicenseType LicenseType   `json:"license_type"`
	IntendedUse string        `json:"intended_use"`
	Duration    *int          `json:"duration,omitempty"` // days
	OfferAmount *float64      `json:"offer_amount,omitempty"`
	Message     string        `json:"message,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      RequestStatus `json:"status"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy string        `json:"processed_by,omitempty"`
	LicenseID   string        `json:"license_id,omitempty"`
}
