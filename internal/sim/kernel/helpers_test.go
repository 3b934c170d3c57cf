package kernel

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/tuning"
)

// stubEngine is a scriptable ExecEngine for kernel tests; the real Lua
// engine is exercised in internal/sim/exec.
type stubEngine struct {
	run     func(inv Invocation) (ExecResult, error)
	methods func(code string) ([]MethodSpec, error)
}

func (e *stubEngine) Run(_ context.Context, inv Invocation) (ExecResult, error) {
	if e.run == nil {
		return ExecResult{Elapsed: time.Millisecond}, nil
	}
	return e.run(inv)
}

func (e *stubEngine) Methods(code string) ([]MethodSpec, error) {
	if e.methods == nil {
		return nil, nil
	}
	return e.methods(code)
}

func testTuning() tuning.Tuning {
	return tuning.Tuning{
		TickRateHz: 5,
		Seed:       42,
		Resources: []tuning.ResourceSpec{
			{Name: "disk", Kind: tuning.KindStock, Amount: 10000},
			{Name: "compute", Kind: tuning.KindFlow, Amount: 1000},
		},
		Auction:        tuning.AuctionTuning{CycleTicks: 10, BiddingWindowTicks: 5, GraceTicks: 10, MintRatio: 10},
		GenesisScrip:   "100",
		InvokeBudgetMs: 50,
	}
}

func newTestKernel(t *testing.T, engine ExecEngine) *Kernel {
	t.Helper()
	if engine == nil {
		engine = &stubEngine{}
	}
	k, err := New(Config{
		Tuning: testTuning(),
		Engine: engine,
		Logger: log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func spawn(t *testing.T, k *Kernel, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := k.SpawnPrincipal(id); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
}

func mustScrip(t *testing.T, k *Kernel, id string) int64 {
	t.Helper()
	v, err := k.ScripBalance(id)
	if err != nil {
		t.Fatalf("scrip %s: %v", id, err)
	}
	return int64(v)
}

func mustRes(t *testing.T, k *Kernel, id, resource string) int64 {
	t.Helper()
	v, err := k.ResourceBalance(id, resource)
	if err != nil {
		t.Fatalf("resource %s/%s: %v", id, resource, err)
	}
	return v
}

func write(t *testing.T, k *Kernel, owner, id string, content string) ActionResult {
	t.Helper()
	res := k.Apply(owner, Action{Type: protocol.ActionWrite, ArtifactID: id, Content: []byte(content)})
	if !res.Success {
		t.Fatalf("write %s: %s %s", id, res.Code, res.Message)
	}
	return res
}

func lastEventOfType(k *Kernel, typ string) (Entry, bool) {
	entries := k.ReadEvents(0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == typ {
			return entries[i], true
		}
	}
	return Entry{}, false
}
