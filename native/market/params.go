package market

import "fmt"

// maxPercentage bounds fee and royalty percentages.
const maxPercentage = 100

// Params is the process-wide marketplace configuration, mutated only through
// the admin engine.
type Params struct {
	Admin                [20]byte
	FeeRecipient         [20]byte
	FeePercentage        uint32
	MaxRoyaltyPercentage uint32
	Paused               map[string]bool
}

// Clone returns a deep copy of the params, duplicating the pause map.
func (p Params) Clone() Params {
	clone := p
	clone.Paused = make(map[string]bool, len(p.Paused))
	for module, paused := range p.Paused {
		clone.Paused[module] = paused
	}
	return clone
}

// SanitizeParams validates the supplied configuration and returns a cloned
// instance with a non-nil pause map.
func SanitizeParams(p Params) (Params, error) {
	clone := p.Clone()
	if clone.FeePercentage > maxPercentage {
		return Params{}, fmt.Errorf("fee percentage out of range: %d", clone.FeePercentage)
	}
	if clone.MaxRoyaltyPercentage > maxPercentage {
		return Params{}, fmt.Errorf("max royalty percentage out of range: %d", clone.MaxRoyaltyPercentage)
	}
	for module := range clone.Paused {
		if !validModule(module) {
			return Params{}, fmt.Errorf("unknown market module: %s", module)
		}
	}
	return clone, nil
}

func validModule(module string) bool {
	switch module {
	case ModuleFixed, ModuleAuction, ModuleLedger:
		return true
	default:
		return false
	}
}
