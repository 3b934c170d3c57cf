package genesis

import (
	"log"
	"os"
	"testing"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/exec"
	"scripcraft.ai/internal/sim/kernel"
	"scripcraft.ai/internal/sim/tuning"
)

func newWorld(t *testing.T, scorer kernel.Scorer) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(kernel.Config{
		Tuning: tuning.Tuning{
			TickRateHz: 5,
			Seed:       42,
			Resources: []tuning.ResourceSpec{
				{Name: "disk", Kind: tuning.KindStock, Amount: 10000},
				{Name: "compute", Kind: tuning.KindFlow, Amount: 1000},
			},
			Auction:        tuning.AuctionTuning{CycleTicks: 10, BiddingWindowTicks: 5, GraceTicks: 2, MintRatio: 10},
			GenesisScrip:   "100",
			InvokeBudgetMs: 100,
		},
		Scorer: scorer,
		Engine: exec.New(),
		Logger: log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("kernel: %v", err)
	}
	if err := Install(k); err != nil {
		t.Fatalf("install: %v", err)
	}
	return k
}

func spawn(t *testing.T, k *kernel.Kernel, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := k.SpawnPrincipal(id); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
}

func call(k *kernel.Kernel, caller, service, method string, args map[string]any) kernel.ActionResult {
	return k.Apply(caller, kernel.Action{
		Type:       protocol.ActionInvoke,
		ArtifactID: service,
		Method:     method,
		Args:       args,
	})
}

func mustCall(t *testing.T, k *kernel.Kernel, caller, service, method string, args map[string]any) any {
	t.Helper()
	res := call(k, caller, service, method, args)
	if !res.Success {
		t.Fatalf("%s.%s by %s: %s %s", service, method, caller, res.Code, res.Message)
	}
	return res.Value
}

func balance(t *testing.T, k *kernel.Kernel, id string) scrip.Amount {
	t.Helper()
	v, err := k.ScripBalance(id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	return v
}

func writeArtifact(t *testing.T, k *kernel.Kernel, owner, id, content string) {
	t.Helper()
	res := k.Apply(owner, kernel.Action{
		Type:       protocol.ActionWrite,
		ArtifactID: id,
		Content:    []byte(content),
	})
	if !res.Success {
		t.Fatalf("write %s: %s %s", id, res.Code, res.Message)
	}
}

// depositToEscrow runs the two-step listing flow: custody to the custodian
// via the ledger service, then the escrow deposit.
func depositToEscrow(t *testing.T, k *kernel.Kernel, seller, artifact, price string, extra map[string]any) {
	t.Helper()
	mustCall(t, k, seller, ServiceLedger, "transfer_ownership", map[string]any{
		"artifact": artifact,
		"to":       kernel.PrincipalCustodian,
	})
	args := map[string]any{"artifact": artifact, "price": price}
	for key, v := range extra {
		args[key] = v
	}
	mustCall(t, k, seller, ServiceEscrow, "deposit", args)
}

func lastEventOfType(k *kernel.Kernel, typ string) (kernel.Entry, bool) {
	entries := k.ReadEvents(0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == typ {
			return entries[i], true
		}
	}
	return kernel.Entry{}, false
}

// tickUntilBidding advances the clock until the auction reports BIDDING.
func tickUntilBidding(t *testing.T, k *kernel.Kernel, caller string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		k.Tick()
		status := mustCall(t, k, caller, ServiceAuction, "status", nil).(map[string]any)
		if status["phase"] == PhaseBidding {
			return
		}
	}
	t.Fatal("auction never entered BIDDING")
}

// tickUntilClosed advances until the current bidding window resolves.
func tickUntilClosed(t *testing.T, k *kernel.Kernel, caller string) {
	t.Helper()
	for i := 0; i < 50; i++ {
		k.Tick()
		status := mustCall(t, k, caller, ServiceAuction, "status", nil).(map[string]any)
		if status["phase"] == PhaseClosed {
			return
		}
	}
	t.Fatal("auction never closed")
}
