package kernel

import (
	"testing"

	"scripcraft.ai/internal/scrip"
)

func TestTransferScripInsufficientLeavesBothUnchanged(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	k.mu.Lock()
	txn := k.newTxn()
	err := txn.TransferScrip("p1", "p2", scrip.MustParse("200"))
	txn.Commit()
	k.mu.Unlock()

	if err == nil {
		t.Fatal("overdraw transfer succeeded")
	}
	if got := mustScrip(t, k, "p1"); got != int64(scrip.MustParse("100")) {
		t.Fatalf("p1 = %d, want 100000", got)
	}
	if got := mustScrip(t, k, "p2"); got != int64(scrip.MustParse("100")) {
		t.Fatalf("p2 = %d, want 100000", got)
	}
}

func TestDiscardedTxnHasNoEffect(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	k.mu.Lock()
	txn := k.newTxn()
	if err := txn.TransferScrip("p1", "p2", scrip.MustParse("10")); err != nil {
		k.mu.Unlock()
		t.Fatalf("stage: %v", err)
	}
	if err := txn.SpendResource("p1", "disk", 50); err != nil {
		k.mu.Unlock()
		t.Fatalf("stage: %v", err)
	}
	// No Commit: the txn is dropped.
	k.mu.Unlock()

	if got := mustScrip(t, k, "p1"); got != int64(scrip.MustParse("100")) {
		t.Fatalf("p1 scrip = %d after discarded txn", got)
	}
	if got := mustRes(t, k, "p1", "disk"); got != 10000 {
		t.Fatalf("p1 disk = %d after discarded txn", got)
	}
}

func TestStagedBalanceGatesLaterStages(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	k.mu.Lock()
	defer k.mu.Unlock()
	txn := k.newTxn()
	if err := txn.DebitScrip("p1", scrip.MustParse("80")); err != nil {
		t.Fatalf("first debit: %v", err)
	}
	// Live balance is still 100, but the effective balance is 20.
	if err := txn.DebitScrip("p1", scrip.MustParse("80")); err == nil {
		t.Fatal("second debit ignored the staged delta")
	}
}

func TestTransferQuotaStockMovesUnusedBalance(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	k.mu.Lock()
	txn := k.newTxn()
	err := txn.TransferQuota("p1", "p2", "disk", 4000)
	txn.Commit()
	k.mu.Unlock()
	if err != nil {
		t.Fatalf("quota transfer: %v", err)
	}

	if got := mustRes(t, k, "p1", "disk"); got != 6000 {
		t.Fatalf("p1 disk balance = %d, want 6000", got)
	}
	if got := mustRes(t, k, "p2", "disk"); got != 14000 {
		t.Fatalf("p2 disk balance = %d, want 14000", got)
	}
}

func TestTransferQuotaFlowChangesOnlyAllocation(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")

	k.mu.Lock()
	txn := k.newTxn()
	err := txn.TransferQuota("p1", "p2", "compute", 400)
	txn.Commit()
	k.mu.Unlock()
	if err != nil {
		t.Fatalf("quota transfer: %v", err)
	}

	// Current-tick balances are untouched; the new allocation lands at the
	// next tick boundary.
	if got := mustRes(t, k, "p1", "compute"); got != 1000 {
		t.Fatalf("p1 compute before tick = %d, want 1000", got)
	}
	k.Tick()
	if got := mustRes(t, k, "p1", "compute"); got != 600 {
		t.Fatalf("p1 compute after tick = %d, want 600", got)
	}
	if got := mustRes(t, k, "p2", "compute"); got != 1400 {
		t.Fatalf("p2 compute after tick = %d, want 1400", got)
	}
}

func TestTransferCustodyMovesDiskUsage(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")
	write(t, k, "p1", "a1", "0123456789") // 10 bytes

	k.mu.Lock()
	txn := k.newTxn()
	err := txn.TransferCustody("a1", "p2")
	txn.Commit()
	k.mu.Unlock()
	if err != nil {
		t.Fatalf("custody: %v", err)
	}

	if got := mustRes(t, k, "p1", "disk"); got != 10000 {
		t.Fatalf("previous owner disk = %d, want 10000", got)
	}
	if got := mustRes(t, k, "p2", "disk"); got != 9990 {
		t.Fatalf("new owner disk = %d, want 9990", got)
	}

	res := k.Apply("p2", Action{Type: "DELETE_ARTIFACT", ArtifactID: "a1"})
	if !res.Success {
		t.Fatalf("new owner delete: %s %s", res.Code, res.Message)
	}
}

func TestTransferCustodyFailsWithoutRecipientDisk(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1", "p2")
	write(t, k, "p2", "filler", string(make([]byte, 9995)))
	write(t, k, "p1", "a1", "0123456789")

	k.mu.Lock()
	txn := k.newTxn()
	err := txn.TransferCustody("a1", "p2")
	txn.Commit()
	k.mu.Unlock()
	if err == nil {
		t.Fatal("custody transfer succeeded without recipient disk")
	}

	// No partial effect: ownership and both disk balances are unchanged.
	if got := mustRes(t, k, "p1", "disk"); got != 9990 {
		t.Fatalf("p1 disk = %d, want 9990", got)
	}
	if got := mustRes(t, k, "p2", "disk"); got != 5 {
		t.Fatalf("p2 disk = %d, want 5", got)
	}
	res := k.Apply("p1", Action{Type: "DELETE_ARTIFACT", ArtifactID: "a1"})
	if !res.Success {
		t.Fatalf("original owner lost the artifact: %s %s", res.Code, res.Message)
	}
}

func TestSpawnDuplicateRejected(t *testing.T) {
	k := newTestKernel(t, nil)
	spawn(t, k, "p1")
	if err := k.SpawnPrincipal("p1"); err == nil {
		t.Fatal("duplicate spawn succeeded")
	}
}
