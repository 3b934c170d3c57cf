package kernel

import (
	"strings"
	"testing"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

func TestWriteChargesDiskAndRewriteRefunds(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")

	write(t, k, "p1", "a1", strings.Repeat("x", 100))
	if got := mustRes(t, k, "p1", "disk"); got != 9900 {
		t.Fatalf("disk after write = %d, want 9900", got)
	}

	// Shrinking the artifact credits the difference back.
	write(t, k, "p1", "a1", strings.Repeat("x", 40))
	if got := mustRes(t, k, "p1", "disk"); got != 9960 {
		t.Fatalf("disk after shrink = %d, want 9960", got)
	}

	res := k.Apply("p1", Action{Type: protocol.ActionDelete, ArtifactID: "a1"})
	if !res.Success {
		t.Fatalf("delete: %s %s", res.Code, res.Message)
	}
	if got := mustRes(t, k, "p1", "disk"); got != 10000 {
		t.Fatalf("disk after delete = %d, want 10000", got)
	}
}

func TestWriteQuotaExceededLeavesNoTrace(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")

	res := k.Apply("p1", Action{
		Type:       protocol.ActionWrite,
		ArtifactID: "big",
		Content:    []byte(strings.Repeat("x", 20000)),
	})
	if res.Success || res.Code != protocol.ErrQuotaExceeded {
		t.Fatalf("oversized write = %+v, want E_QUOTA_EXCEEDED", res)
	}
	if got := mustRes(t, k, "p1", "disk"); got != 10000 {
		t.Fatalf("disk after rejected write = %d, want 10000", got)
	}
	read := k.Apply("p1", Action{Type: protocol.ActionRead, ArtifactID: "big"})
	if read.Success || read.Code != protocol.ErrNotFound {
		t.Fatalf("rejected artifact should not exist: %+v", read)
	}
	if _, ok := lastEventOfType(k, protocol.EventQuotaExhausted); !ok {
		t.Fatal("no QUOTA_EXHAUSTED event recorded")
	}
}

func TestWriteOwnerOnly(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")
	write(t, k, "p1", "a1", "hello")

	res := k.Apply("p2", Action{Type: protocol.ActionWrite, ArtifactID: "a1", Content: []byte("mine now")})
	if res.Success || res.Code != protocol.ErrAuthorization {
		t.Fatalf("foreign write = %+v, want E_AUTHORIZATION", res)
	}
	res = k.Apply("p2", Action{Type: protocol.ActionDelete, ArtifactID: "a1"})
	if res.Success || res.Code != protocol.ErrAuthorization {
		t.Fatalf("foreign delete = %+v, want E_AUTHORIZATION", res)
	}
}

func TestServiceArtifactsImmutable(t *testing.T) {
	k := newTestKernel(t, nil)
	if err := k.RegisterService(&nopService{id: "svc_test"}, "doc"); err != nil {
		t.Fatalf("register: %v", err)
	}
	spawn(t, k, "p1")

	res := k.Apply("p1", Action{Type: protocol.ActionWrite, ArtifactID: "svc_test", Content: []byte("x")})
	if res.Success || res.Code != protocol.ErrAuthorization {
		t.Fatalf("write over service artifact = %+v, want E_AUTHORIZATION", res)
	}
	res = k.Apply("p1", Action{Type: protocol.ActionDelete, ArtifactID: "svc_test"})
	if res.Success || res.Code != protocol.ErrAuthorization {
		t.Fatalf("delete of service artifact = %+v, want E_AUTHORIZATION", res)
	}
}

type nopService struct{ id string }

func (s *nopService) ServiceID() string { return s.id }

func (s *nopService) Call(*ServiceCall) (any, error) { return "ok", nil }

func TestReadUnknownArtifact(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")
	res := k.Apply("p1", Action{Type: protocol.ActionRead, ArtifactID: "ghost"})
	if res.Success || res.Code != protocol.ErrNotFound {
		t.Fatalf("read ghost = %+v, want E_NOT_FOUND", res)
	}
}

func TestReadPricePaysOwner(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	res := k.Apply("p1", Action{
		Type:       protocol.ActionWrite,
		ArtifactID: "paid",
		Content:    []byte("premium"),
		ReadPrice:  scrip.MustParse("2.500"),
	})
	if !res.Success {
		t.Fatalf("write: %s %s", res.Code, res.Message)
	}

	res = k.Apply("p2", Action{Type: protocol.ActionRead, ArtifactID: "paid"})
	if !res.Success {
		t.Fatalf("paid read: %s %s", res.Code, res.Message)
	}
	if got := mustScrip(t, k, "p2"); got != int64(scrip.MustParse("97.500")) {
		t.Fatalf("reader balance = %d, want 97500", got)
	}
	if got := mustScrip(t, k, "p1"); got != int64(scrip.MustParse("102.500")) {
		t.Fatalf("owner balance = %d, want 102500", got)
	}

	// The owner reads their own artifact for free.
	before := mustScrip(t, k, "p1")
	res = k.Apply("p1", Action{Type: protocol.ActionRead, ArtifactID: "paid"})
	if !res.Success {
		t.Fatalf("owner read: %s %s", res.Code, res.Message)
	}
	if got := mustScrip(t, k, "p1"); got != before {
		t.Fatalf("owner read changed balance: %d -> %d", before, got)
	}
}

func TestReadAccessPolicy(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2", "p3")

	res := k.Apply("p1", Action{
		Type:       protocol.ActionWrite,
		ArtifactID: "private",
		Content:    []byte("secret"),
		Access:     &AccessPolicy{Mode: protocol.AccessAllowList, Allow: []string{"p2"}},
	})
	if !res.Success {
		t.Fatalf("write: %s %s", res.Code, res.Message)
	}

	if res := k.Apply("p2", Action{Type: protocol.ActionRead, ArtifactID: "private"}); !res.Success {
		t.Fatalf("allow-listed read: %s %s", res.Code, res.Message)
	}
	if res := k.Apply("p3", Action{Type: protocol.ActionRead, ArtifactID: "private"}); res.Success || res.Code != protocol.ErrAuthorization {
		t.Fatalf("outsider read = %+v, want E_AUTHORIZATION", res)
	}
}

func TestUnknownActionType(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")
	res := k.Apply("p1", Action{Type: "EXPLODE", ArtifactID: "a"})
	if res.Success || res.Code != protocol.ErrValidation {
		t.Fatalf("unknown action = %+v, want E_VALIDATION", res)
	}
}

func TestUnknownPrincipal(t *testing.T) {
	k := newTestKernel(t, nil)
	res := k.Apply("nobody", Action{Type: protocol.ActionRead, ArtifactID: "a"})
	if res.Success || res.Code != protocol.ErrValidation {
		t.Fatalf("unknown principal = %+v, want E_VALIDATION", res)
	}
}

func TestEveryResultCodeIsKnown(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")

	attempts := []Action{
		{Type: protocol.ActionRead, ArtifactID: "ghost"},
		{Type: protocol.ActionWrite, ArtifactID: ""},
		{Type: protocol.ActionInvoke, ArtifactID: "ghost"},
		{Type: "BOGUS"},
	}
	for _, act := range attempts {
		res := k.Apply("p1", act)
		if res.Success {
			continue
		}
		if !protocol.IsKnownCode(res.Code) || res.Code == "" {
			t.Fatalf("action %q produced unknown code %q", act.Type, res.Code)
		}
		if res.Code == protocol.ErrConflict {
			t.Fatalf("action %q surfaced E_CONFLICT", act.Type)
		}
	}
}
