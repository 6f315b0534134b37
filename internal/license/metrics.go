package license

import (
	"context"
	"sort"

	"github.com/starford/guardian/internal/models"
)

// revenuePerRoyaltyPoint scales royalty rate into the revenue proxy used for
// ranking. It does not model real currency amounts.
const revenuePerRoyaltyPoint = 100

const topCapsuleLimit = 5

// CapsuleRevenue is one entry of the top-capsules ranking.
type CapsuleRevenue struct {
	CapsuleID string  `json:"capsule_id"`
	Licenses  int     `json:"licenses"`
	Revenue   float64 `json:"revenue"`
}

// Metrics aggregates every stored license.
type Metrics struct {
	TotalLicenses      int                        `json:"total_licenses"`
	ActiveLicenses     int                        `json:"active_licenses"`
	TotalRevenue       float64                    `json:"total_revenue"`
	AverageRoyaltyRate float64                    `json:"average_royalty_rate"`
	LicensesByType     map[models.LicenseType]int `json:"licenses_by_type"`
	TopCapsules        []CapsuleRevenue           `json:"top_capsules"`
}

// RevenueProxy is the per-license revenue estimate, monotonic in royalty rate.
func RevenueProxy(l *models.CapsuleLicense) float64 {
	return l.Terms.RoyaltyRate * revenuePerRoyaltyPoint
}

// GetLicenseMetrics aggregates counts, revenue proxy and type distribution.
// Top capsules are ranked by revenue, ties broken by capsule id ascending.
func (m *Manager) GetLicenseMetrics(ctx context.Context) (*Metrics, error) {
	all, err := m.licenses.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}

	out := &Metrics{
		LicensesByType: make(map[models.LicenseType]int, len(models.LicenseTypes)),
		TopCapsules:    []CapsuleRevenue{},
	}
	for _, t := range models.LicenseTypes {
		out.LicensesByType[t] = 0
	}

	now := m.now()
	var royaltySum float64
	byCapsule := make(map[string]*CapsuleRevenue)
	for _, l := range all {
		out.TotalLicenses++
		if !l.Expired(now) {
			out.ActiveLicenses++
		}
		rev := RevenueProxy(l)
		out.TotalRevenue += rev
		royaltySum += l.Terms.RoyaltyRate
		out.LicensesByType[l.LicenseType]++

		cr, ok := byCapsule[l.CapsuleID]
		if !ok {
			cr = &CapsuleRevenue{CapsuleID: l.CapsuleID}
			byCapsule[l.CapsuleID] = cr
		}
		cr.Licenses++
		cr.Revenue += rev
	}
	if out.TotalLicenses > 0 {
		out.AverageRoyaltyRate = royaltySum / float64(out.TotalLicenses)
	}

	ranked := make([]CapsuleRevenue, 0, len(byCapsule))
	for _, cr := range byCapsule {
		ranked = append(ranked, *cr)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Revenue != ranked[j].Revenue {
			return ranked[i].Revenue > ranked[j].Revenue
		}
		return ranked[i].CapsuleID < ranked[j].CapsuleID
	})
	if len(ranked) > topCapsuleLimit {
		ranked = ranked[:topCapsuleLimit]
	}
	out.TopCapsules = ranked
	return out, nil
}
