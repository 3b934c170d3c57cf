package kernel

import (
	"testing"
	"time"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

func TestTickResetsFlowResources(t *testing.T) {
	engine := &stubEngine{
		run: func(inv Invocation) (ExecResult, error) {
			return ExecResult{Elapsed: 40 * time.Millisecond}, nil
		},
	}
	k := newTestKernel(t, engine)
	spawn(t, k, "p1")
	writeExecutable(t, k, "p1", "a1", Action{})

	if res := k.Apply("p1", Action{Type: protocol.ActionInvoke, ArtifactID: "a1"}); !res.Success {
		t.Fatalf("invoke: %s %s", res.Code, res.Message)
	}
	if got := mustRes(t, k, "p1", "compute"); got != 960 {
		t.Fatalf("compute after invoke = %d, want 960", got)
	}

	k.Tick()

	// Residual is discarded, not banked: the balance returns to exactly
	// the quota.
	if got := mustRes(t, k, "p1", "compute"); got != 1000 {
		t.Fatalf("compute after tick = %d, want 1000", got)
	}
}

func TestTickLeavesStockResourcesAlone(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")
	write(t, k, "p1", "a1", "0123456789")

	k.Tick()
	if got := mustRes(t, k, "p1", "disk"); got != 9990 {
		t.Fatalf("disk after tick = %d, want 9990", got)
	}
}

func TestTickEmitsDigestEvent(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")
	k.Tick()

	e, ok := lastEventOfType(k, protocol.EventTickBoundary)
	if !ok {
		t.Fatal("no TICK event")
	}
	if e.Tick != 1 {
		t.Fatalf("TICK event at tick %d, want 1", e.Tick)
	}
	digest, _ := e.Payload["digest"].(string)
	if len(digest) != 64 {
		t.Fatalf("digest = %q, want 64 hex chars", digest)
	}
}

func TestStateDigestDeterministic(t *testing.T) {
	run := func() string {
		k := newTestKernel(t, nil)
		spawn(t, k, "p1", "p2")
		write(t, k, "p1", "a1", "content one")
		if res := k.Apply("p2", Action{
			Type:       protocol.ActionWrite,
			ArtifactID: "a2",
			Content:    []byte("content two"),
			Price:      scrip.MustParse("3"),
		}); !res.Success {
			t.Fatalf("write: %s %s", res.Code, res.Message)
		}
		k.Tick()
		e, ok := lastEventOfType(k, protocol.EventTickBoundary)
		if !ok {
			t.Fatal("no TICK event")
		}
		return e.Payload["digest"].(string)
	}

	if a, b := run(), run(); a != b {
		t.Fatalf("same inputs diverged: %s vs %s", a, b)
	}

	// A different action history produces a different digest.
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")
	write(t, k, "p1", "a1", "different content")
	k.Tick()
	e, _ := lastEventOfType(k, protocol.EventTickBoundary)
	if e.Payload["digest"].(string) == run() {
		t.Fatal("digest ignored artifact content")
	}
}
