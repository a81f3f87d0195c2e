package broker

import (
	"testing"

	"github.com/orbis-social/compute-broker/internal/ledger"
)

func descriptors(addrs ...string) []ledger.ProviderDescriptor {
	out := make([]ledger.ProviderDescriptor, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, ledger.ProviderDescriptor{Provider: a, Endpoint: "https://" + a + ".example"})
	}
	return out
}

func addrsOf(ranked []ledger.ProviderDescriptor) []string {
	out := make([]string, 0, len(ranked))
	for _, p := range ranked {
		out = append(out, p.Provider)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRank(t *testing.T) {
	tests := []struct {
		name       string
		priority   []string
		discovered []string
		want       []string
	}{
		{"no hints keeps discovery order", nil, []string{"a", "b", "c"}, []string{"a", "b", "c"}},
		{"hint moves provider first", []string{"c"}, []string{"a", "b", "c"}, []string{"c", "a", "b"}},
		{"hints in hint order", []string{"b", "c"}, []string{"a", "b", "c"}, []string{"b", "c", "a"}},
		{"unknown hint dropped", []string{"x", "b"}, []string{"a", "b"}, []string{"b", "a"}},
		{"duplicate hint deduped", []string{"b", "b"}, []string{"a", "b"}, []string{"b", "a"}},
		{"empty discovery", []string{"a"}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addrsOf(rank(tt.priority, descriptors(tt.discovered...)))
			if !equal(got, tt.want) {
				t.Fatalf("rank(%v, %v) = %v, want %v", tt.priority, tt.discovered, got, tt.want)
			}
		})
	}
}

func TestRankDedupesDiscovery(t *testing.T) {
	discovered := descriptors("a", "b")
	discovered = append(discovered, discovered[0]) // duplicate listing entry

	got := addrsOf(rank(nil, discovered))
	if !equal(got, []string{"a", "b"}) {
		t.Fatalf("rank = %v, want deduplicated [a b]", got)
	}
}
