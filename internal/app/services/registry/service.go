// Package registry resolves asset identifiers to their fractional-unit
// scale and transfer kind. Unregistered external assets fall back to a
// default scale; the fallback is pinned on first use so a scale can never
// change within a ledger's lifetime.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Service is the asset registry. Safe for concurrent use.
type Service struct {
	mu          sync.RWMutex
	resolutions map[asset.ID]asset.Resolution
	log         *logger.Logger
}

// New constructs a registry with the native asset pre-pinned.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	s := &Service{
		resolutions: make(map[asset.ID]asset.Resolution),
		log:         log,
	}
	s.resolutions[asset.Native] = asset.Resolution{
		Asset:    asset.Native,
		Decimals: asset.DefaultDecimals,
		Kind:     asset.KindNative,
	}
	return s
}

// Register pins an explicit scale for an external asset. Re-registering
// with the same scale is a no-op; conflicting with an already pinned scale
// is an error, whether the pin came from registration or from the fallback.
func (s *Service) Register(id asset.ID, decimals uint8) (asset.Resolution, error) {
	id = normalize(id)
	if id == "" {
		return asset.Resolution{}, fmt.Errorf("asset id is required")
	}
	if id.IsNative() {
		return asset.Resolution{}, fmt.Errorf("native asset scale is fixed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.resolutions[id]; ok {
		if existing.Decimals != decimals {
			return asset.Resolution{}, fmt.Errorf("asset %s already resolved with %d decimals", id, existing.Decimals)
		}
		if existing.Defaulted {
			// Upgrade provenance: the caller confirmed the defaulted scale.
			existing.Defaulted = false
			s.resolutions[id] = existing
		}
		return existing, nil
	}

	res := asset.Resolution{Asset: id, Decimals: decimals, Kind: asset.KindExternal}
	s.resolutions[id] = res
	s.log.WithField("asset", string(id)).
		WithField("decimals", decimals).
		Info("asset registered")
	return res, nil
}

// Resolve returns the pinned resolution for an asset, pinning the fallback
// for identifiers never seen before. It never fails for a non-empty id.
func (s *Service) Resolve(id asset.ID) asset.Resolution {
	id = normalize(id)

	s.mu.RLock()
	res, ok := s.resolutions[id]
	s.mu.RUnlock()
	if ok {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok = s.resolutions[id]; ok {
		return res
	}
	res = asset.Resolution{
		Asset:     id,
		Decimals:  asset.DefaultDecimals,
		Kind:      asset.KindExternal,
		Defaulted: true,
	}
	s.resolutions[id] = res
	s.log.WithField("asset", string(id)).Warn("asset scale defaulted")
	return res
}

// Resolutions lists every pinned resolution, for audit surfaces.
func (s *Service) Resolutions() []asset.Resolution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]asset.Resolution, 0, len(s.resolutions))
	for _, res := range s.resolutions {
		out = append(out, res)
	}
	return out
}

func normalize(id asset.ID) asset.ID {
	return asset.ID(strings.ToLower(strings.TrimSpace(string(id))))
}
