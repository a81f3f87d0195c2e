package broker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/funds"
	"github.com/orbis-social/compute-broker/internal/ledger"
	"github.com/orbis-social/compute-broker/internal/session"
)

func TestOfflineEngine(t *testing.T) {
	ol := NewOfflineLedger(1_000_000_000)

	fm, err := funds.NewManager(funds.Config{
		Ledger:         ol,
		Logger:         zerolog.Nop(),
		TopUpIncrement: 1_000_000,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	orch, err := NewOrchestrator(OrchestratorConfig{
		Sessions:      session.New(ol, zerolog.Nop()),
		Transport:     OfflineTransport{},
		Logger:        zerolog.Nop(),
		OperationPath: "/v1/completions",
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	eng, err := NewEngine(EngineConfig{
		Funds:        fm,
		Directory:    &StaticLister{Providers: []ledger.ProviderDescriptor{OfflineProvider}},
		Orchestrator: orch,
		Ledger:       ol,
		MinThreshold: 1_000,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	res, err := eng.Execute(context.Background(), Envelope{Payload: json.RawMessage(`{"prompt":"hello"}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Provider != OfflineProvider.Provider {
		t.Fatalf("provider = %s", res.Provider)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Fatalf("echo lost: %s", res.Body)
	}
	if res.Verified {
		t.Fatal("offline responses must never claim verification")
	}

	st := eng.Status(context.Background())
	if !st.Configured || st.Providers != 1 {
		t.Fatalf("status = %+v", st)
	}
}
