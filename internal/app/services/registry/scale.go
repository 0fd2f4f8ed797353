package registry

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
)

// Scale converts a human-readable decimal amount to the asset's fixed-point
// integer representation. The amount must be strictly positive and must not
// carry more fractional digits than the asset's scale.
func (s *Service) Scale(amount string, id asset.ID) (*big.Int, error) {
	res := s.Resolve(id)
	return scaleDecimal(amount, res.Decimals)
}

func scaleDecimal(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is required")
	}
	if strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return nil, fmt.Errorf("amount must be an unsigned decimal: %q", amount)
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("malformed amount %q", amount)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", amount, decimals)
	}

	frac = frac + strings.Repeat("0", int(decimals)-len(frac))
	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be strictly positive")
	}
	return value, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
