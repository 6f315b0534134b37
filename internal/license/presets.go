package license

import "github.com/starford/guardian/internal/models"

// Preset is the default permission set and royalty rate for a license type.
type Preset struct {
	Type        models.LicenseType `json:"type"`
	Permissions models.Permissions `json:"permissions"`
	RoyaltyRate float64            `json:"royalty_rate"`
}

var presets = map[models.LicenseType]Preset{
	models.LicenseStandard: {
		Type:        models.LicenseStandard,
		Permissions: models.Permissions{Attribution: true},
		RoyaltyRate: 5,
	},
	models.LicenseCommercial: {
		Type:        models.LicenseCommercial,
		Permissions: models.Permissions{Redistribute: true, CommercialUse: true, Attribution: true},
		RoyaltyRate: 15,
	},
	models.LicenseExclusive: {
		Type:        models.LicenseExclusive,
		Permissions: models.Permissions{Redistribute: true, CommercialUse: true, Modification: true, Attribution: true},
		RoyaltyRate: 25,
	},
	models.LicenseCreativeCommons: {
		Type:        models.LicenseCreativeCommons,
		Permissions: models.Permissions{Redistribute: true, Modification: true, Attribution: true},
		RoyaltyRate: 0,
	},
}

// PresetFor returns the preset for t. Unknown types fall back to standard.
func PresetFor(t models.LicenseType) Preset {
	if p, ok := presets[t]; ok {
		return p
	}
	return presets[models.LicenseStandard]
}

// Presets returns every preset in display order.
func Presets() []Preset {
	out := make([]Preset, 0, len(models.LicenseTypes))
	for _, t := range models.LicenseTypes {
		out = append(out, presets[t])
	}
	return out
}
