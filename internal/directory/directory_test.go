package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/ledger"
	"github.com/orbis-social/compute-broker/pkg/testutil"
)

func TestDiscover(t *testing.T) {
	ml := testutil.NewMockLedger(0)
	ml.SetProviders(
		ledger.ProviderDescriptor{Provider: "0xp1", Endpoint: "https://p1.example", Model: "m1", Verifiable: true},
		ledger.ProviderDescriptor{Provider: "0xp2", Endpoint: "https://p2.example", Model: "m2"},
	)

	d := New(ml, zerolog.Nop())
	providers, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(providers))
	}
	if providers[0].Provider != "0xp1" {
		t.Fatalf("order not preserved: %+v", providers)
	}
}

func TestDiscoverDropsIncompleteDescriptors(t *testing.T) {
	ml := testutil.NewMockLedger(0)
	ml.SetProviders(
		ledger.ProviderDescriptor{Provider: "0xp1", Endpoint: "https://p1.example"},
		ledger.ProviderDescriptor{Provider: "", Endpoint: "https://ghost.example"},
		ledger.ProviderDescriptor{Provider: "0xp3", Endpoint: ""},
	)

	d := New(ml, zerolog.Nop())
	providers, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(providers) != 1 || providers[0].Provider != "0xp1" {
		t.Fatalf("unexpected providers: %+v", providers)
	}
}

func TestDiscoverListingFailure(t *testing.T) {
	ml := testutil.NewMockLedger(0)
	ml.ProvidersErr = errors.New("ledger node unreachable")

	d := New(ml, zerolog.Nop())
	_, err := d.Discover(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var dirErr *Error
	if !errors.As(err, &dirErr) {
		t.Fatalf("error type = %T, want *directory.Error", err)
	}
	if !errors.Is(err, ml.ProvidersErr) {
		t.Fatal("underlying error not preserved")
	}
}

func TestDiscoverFreshPerCall(t *testing.T) {
	ml := testutil.NewMockLedger(0)
	ml.SetProviders(ledger.ProviderDescriptor{Provider: "0xp1", Endpoint: "https://p1.example"})

	d := New(ml, zerolog.Nop())
	if _, err := d.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// Provider churn between calls must be visible immediately.
	ml.SetProviders(ledger.ProviderDescriptor{Provider: "0xp2", Endpoint: "https://p2.example"})
	providers, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(providers) != 1 || providers[0].Provider != "0xp2" {
		t.Fatalf("stale listing returned: %+v", providers)
	}
}
