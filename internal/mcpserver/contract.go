package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/guardian/internal/license"
)

// LicenseTypesURI addresses the license type reference resource.
const LicenseTypesURI = "guardian://license-types"

const licenseRules = `
## Rules

1. **Unknown types** fall back to ` + "`standard`" + `.
2. **Custom terms** (royalty rate, exclusivity period, territorial limits,
   usage restrictions, permissions) override the preset field by field.
3. **Expiry:** a license with a duration expires that many days after issue.
   An expired license is never valid.
4. **Integrity:** every license carries a hash over capsule id, author, grief
   score and issue time. A mismatch on verification means tampering.
5. **Verification** needs two distinct verifiers. Repeating a verifier has no
   effect.
6. **Requests** move from ` + "`pending`" + ` to ` + "`approved`" + ` or ` + "`rejected`" + ` exactly once.

## Restores

- ` + "`restore_capsules`" + ` is a dry run unless ` + "`dry_run`" + ` is explicitly false.
- Existing capsules are skipped unless ` + "`overwrite_existing`" + ` is set.
- Run ` + "`verify_backup`" + ` first when the artifact came from elsewhere.
`

// LicenseTypesDocument renders the license presets and workflow rules as
// Markdown for LLM consumers choosing a license type.
func LicenseTypesDocument() string {
	var b strings.Builder
	b.WriteString("# Guardian License Types\n\n")
	b.WriteString("| type | royalty % | redistribute | commercial use | modification | attribution |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, p := range license.Presets() {
		fmt.Fprintf(&b, "| `%s` | %g | %s | %s | %s | %s |\n",
			p.Type, p.RoyaltyRate,
			yesNo(p.Permissions.Redistribute),
			yesNo(p.Permissions.CommercialUse),
			yesNo(p.Permissions.Modification),
			yesNo(p.Permissions.Attribution))
	}
	b.WriteString(licenseRules)
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
