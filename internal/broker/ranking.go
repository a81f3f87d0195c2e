package broker

import "github.com/orbis-social/compute-broker/internal/ledger"

// rank merges caller priority hints with the discovered provider list.
// Hinted providers come first in hint order, the rest follow in discovery
// order, de-duplicated by provider address. Hints naming providers that are
// not currently discovered are dropped: there is no endpoint to call.
func rank(priority []string, discovered []ledger.ProviderDescriptor) []ledger.ProviderDescriptor {
	byAddr := make(map[string]ledger.ProviderDescriptor, len(discovered))
	for _, p := range discovered {
		byAddr[p.Provider] = p
	}

	ranked := make([]ledger.ProviderDescriptor, 0, len(discovered))
	seen := make(map[string]bool, len(discovered))

	for _, addr := range priority {
		p, ok := byAddr[addr]
		if !ok || seen[addr] {
			continue
		}
		ranked = append(ranked, p)
		seen[addr] = true
	}
	for _, p := range discovered {
		if seen[p.Provider] {
			continue
		}
		ranked = append(ranked, p)
		seen[p.Provider] = true
	}
	return ranked
}
