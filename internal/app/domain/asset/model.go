// Package asset defines asset identifiers and their scale resolution.
package asset

// ID is an opaque asset identifier. The native asset uses the reserved
// Native identifier; every other value names an external-balance asset
// whose funds move through approve-then-pull.
type ID string

// Native is the chain's base unit of value.
const Native ID = "native"

// Kind distinguishes how an asset's balances are held.
type Kind string

const (
	KindNative   Kind = "native"
	KindExternal Kind = "external"
)

// DefaultDecimals is the fallback scale for unregistered external assets.
// Observed assets in this domain use 6 or 8; the fallback is a policy, not
// a discovery mechanism.
const DefaultDecimals uint8 = 18

// Resolution is the pinned scale of an asset. Defaulted records whether the
// scale came from an explicit registration or from the fallback policy, so
// audits can tell the two apart.
type Resolution struct {
	Asset     ID    `json:"asset"`
	Decimals  uint8 `json:"decimals"`
	Kind      Kind  `json:"kind"`
	Defaulted bool  `json:"defaulted"`
}

// IsNative reports whether the identifier names the native asset.
func (id ID) IsNative() bool { return id == Native }
