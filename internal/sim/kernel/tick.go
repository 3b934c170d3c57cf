package kernel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"scripcraft.ai/internal/protocol"
)

// Tick advances the simulation clock under the global barrier: flow
// balances reset to the registry's quota snapshot for every principal
// atomically relative to any action, then tick hooks (the auction phase
// machine) run, then the tick-boundary event is emitted with the state
// digest. No action observes a half-reset state because actions and the
// tick share the kernel lock.
func (k *Kernel) Tick() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.tick++
	k.quotaSnap = k.registry.FlowSnapshot(k.tick)
	for id, flows := range k.quotaSnap.Flows {
		for resource, quota := range flows {
			if err := k.ledger.SetResource(id, resource, quota); err != nil {
				k.logger.Printf("tick %d: reset %s/%s: %v", k.tick, id, resource, err)
			}
		}
	}

	for _, hook := range k.tickHooks {
		txn := k.newTxn()
		hook.OnTick(k.tick, txn)
		txn.Commit()
	}

	k.appendEvent(protocol.EventTickBoundary, map[string]any{
		"digest": k.stateDigest(),
	})
	return k.tick
}

// QuotaSnapshotForTick returns the immutable flow-quota view taken at the
// last tick boundary.
func (k *Kernel) QuotaSnapshotForTick() QuotaSnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.quotaSnap
}

// stateDigest is a deterministic hash of kernel state. Two kernels fed the
// same seed and action sequence produce identical digests per tick; a
// conservation bug shows up as digest divergence in replay.
func (k *Kernel) stateDigest() string {
	h := sha256.New()
	u64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}
	str := func(s string) {
		u64(uint64(len(s)))
		h.Write([]byte(s))
	}

	u64(k.tick)

	pids := k.ledger.PrincipalIDs()
	sort.Strings(pids)
	for _, id := range pids {
		p := k.ledger.principals[id]
		str(id)
		u64(uint64(p.Scrip))
		names := make([]string, 0, len(p.Resources))
		for n := range p.Resources {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			str(n)
			u64(uint64(p.Resources[n]))
			u64(uint64(p.Quotas[n]))
		}
	}

	for _, id := range k.store.IDs() {
		a := k.store.Get(id)
		str(id)
		str(a.Owner)
		u64(uint64(a.Size()))
		u64(uint64(a.Price))
		sum := sha256.Sum256(a.Content)
		h.Write(sum[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Rand returns a deterministic sample in [0, n) from the world's seeded
// RNG. Only tick hooks and services running under the kernel lock may call
// it.
func (k *Kernel) Rand(n int) int {
	if n <= 1 {
		return 0
	}
	return k.rng.Intn(n)
}
