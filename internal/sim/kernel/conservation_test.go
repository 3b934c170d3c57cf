package kernel

import (
	"sync"
	"testing"
	"time"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

func netScrip(t *testing.T, k *Kernel) int64 {
	t.Helper()
	total, minted := k.TotalScrip()
	return int64(total - minted)
}

// Net scrip (total minus audited mint) must stay constant through every
// operation: spawns, transfers, reads, invokes, faults and ticks.
func TestScripConservation(t *testing.T) {
	engine := &stubEngine{
		run: func(inv Invocation) (ExecResult, error) {
			_ = inv.Caps.Pay("p2", scrip.MustParse("1"))
			return ExecResult{Elapsed: 2 * time.Millisecond}, nil
		},
	}
	k := newTestKernel(t, engine)
	if got := netScrip(t, k); got != 0 {
		t.Fatalf("net scrip at boot = %d, want 0", got)
	}

	spawn(t, k, "p1", "p2", "p3")
	if got := netScrip(t, k); got != 0 {
		t.Fatalf("net scrip after spawns = %d, want 0", got)
	}

	writeExecutable(t, k, "p1", "a1", Action{Price: scrip.MustParse("5"), ReadPrice: scrip.MustParse("2")})
	steps := []Action{
		{Type: protocol.ActionRead, ArtifactID: "a1"},
		{Type: protocol.ActionInvoke, ArtifactID: "a1"},
		{Type: protocol.ActionInvoke, ArtifactID: "ghost"},
		{Type: protocol.ActionWrite, ArtifactID: "b", Content: []byte("data")},
	}
	for _, actor := range []string{"p2", "p3"} {
		for _, act := range steps {
			k.Apply(actor, act)
			if got := netScrip(t, k); got != 0 {
				t.Fatalf("net scrip after %s by %s = %d, want 0", act.Type, actor, got)
			}
		}
	}

	k.Tick()
	if got := netScrip(t, k); got != 0 {
		t.Fatalf("net scrip after tick = %d, want 0", got)
	}
}

// Hammer the kernel from several goroutines while ticks run. Balances must
// never go negative and conservation must hold at the end.
func TestConcurrentActionsPreserveInvariants(t *testing.T) {
	engine := &stubEngine{
		run: func(inv Invocation) (ExecResult, error) {
			return ExecResult{Elapsed: time.Millisecond}, nil
		},
	}
	k := newTestKernel(t, engine)
	principals := []string{"p1", "p2", "p3", "p4"}
	spawn(t, k, principals...)
	writeExecutable(t, k, "p1", "a1", Action{Price: scrip.MustParse("0.500")})

	var wg sync.WaitGroup
	for _, id := range principals {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k.Apply(id, Action{Type: protocol.ActionInvoke, ArtifactID: "a1"})
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			k.Tick()
		}
	}()
	wg.Wait()

	for id := range k.ScripBalances() {
		if bal, _ := k.ScripBalance(id); bal < 0 {
			t.Fatalf("%s has negative scrip %s", id, bal)
		}
		for _, res := range []string{"disk", "compute"} {
			if v, _ := k.ResourceBalance(id, res); v < 0 {
				t.Fatalf("%s has negative %s %d", id, res, v)
			}
		}
	}
	if got := netScrip(t, k); got != 0 {
		t.Fatalf("net scrip after stress = %d, want 0", got)
	}
}
