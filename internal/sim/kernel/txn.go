package kernel

import (
	"sort"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/tuning"
)

// Txn stages the effects of one multi-entry operation (an action, a service
// call, a tick hook) against the live state. Every staging method validates
// against the *effective* value (live + staged), so by the time Commit runs
// nothing can fail: commit is pure writes. Discarding a Txn discards all
// staged effects.
//
// Txns are created and committed under the kernel lock; they are not safe
// for concurrent use.
type Txn struct {
	k    *Kernel
	tick uint64

	scripDelta map[string]scrip.Amount
	resDelta   map[string]map[string]int64
	quotaDelta map[string]map[string]int64

	owners map[string]string
	puts   map[string]*Artifact
	dels   map[string]struct{}

	spawns map[string]*Principal

	minted scrip.Amount

	events []stagedEvent
}

type stagedEvent struct {
	typ     string
	payload map[string]any
}

func (k *Kernel) newTxn() *Txn {
	return &Txn{
		k:          k,
		tick:       k.tick,
		scripDelta: map[string]scrip.Amount{},
		resDelta:   map[string]map[string]int64{},
		quotaDelta: map[string]map[string]int64{},
		owners:     map[string]string{},
		puts:       map[string]*Artifact{},
		dels:       map[string]struct{}{},
		spawns:     map[string]*Principal{},
	}
}

func (t *Txn) Tick() uint64 { return t.tick }

func (t *Txn) principal(id string) (*Principal, *CodedError) {
	if p := t.spawns[id]; p != nil {
		return p, nil
	}
	return t.k.ledger.principal(id)
}

// ScripBalance returns the effective balance: live plus staged delta.
func (t *Txn) ScripBalance(id string) (scrip.Amount, error) {
	p, err := t.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Scrip + t.scripDelta[id], nil
}

func (t *Txn) DebitScrip(id string, amount scrip.Amount) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative debit")
	}
	have, err := t.ScripBalance(id)
	if err != nil {
		return err
	}
	if have < amount {
		return Errf(protocol.ErrValidation, "insufficient scrip: have %s, need %s", have, amount)
	}
	t.scripDelta[id] -= amount
	return nil
}

func (t *Txn) CreditScrip(id string, amount scrip.Amount) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative credit")
	}
	if _, err := t.principal(id); err != nil {
		return err
	}
	t.scripDelta[id] += amount
	return nil
}

func (t *Txn) TransferScrip(from, to string, amount scrip.Amount) error {
	if err := t.DebitScrip(from, amount); err != nil {
		return err
	}
	if err := t.CreditScrip(to, amount); err != nil {
		t.scripDelta[from] += amount // unwind the staged debit
		return err
	}
	return nil
}

// MintScrip credits newly created scrip. The staged mint total is recorded
// so conservation audits can account for it.
func (t *Txn) MintScrip(id string, amount scrip.Amount) error {
	if err := t.CreditScrip(id, amount); err != nil {
		return err
	}
	t.minted += amount
	return nil
}

func (t *Txn) ResourceBalance(id, resource string) (int64, error) {
	p, err := t.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Resources[resource] + t.resDelta[id][resource], nil
}

func (t *Txn) stageRes(id, resource string, delta int64) {
	m := t.resDelta[id]
	if m == nil {
		m = map[string]int64{}
		t.resDelta[id] = m
	}
	m[resource] += delta
}

func (t *Txn) SpendResource(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative spend")
	}
	have, err := t.ResourceBalance(id, resource)
	if err != nil {
		return err
	}
	if have < amount {
		return Errf(protocol.ErrValidation, "insufficient %s: have %d, need %d", resource, have, amount)
	}
	t.stageRes(id, resource, -amount)
	return nil
}

func (t *Txn) CreditResource(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative credit")
	}
	if _, err := t.principal(id); err != nil {
		return err
	}
	t.stageRes(id, resource, amount)
	return nil
}

func (t *Txn) TransferResource(from, to, resource string, amount int64) error {
	if err := t.SpendResource(from, resource, amount); err != nil {
		return err
	}
	if err := t.CreditResource(to, resource, amount); err != nil {
		t.stageRes(from, resource, amount)
		return err
	}
	return nil
}

func (t *Txn) Quota(id, resource string) (int64, error) {
	p, err := t.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Quotas[resource] + t.quotaDelta[id][resource], nil
}

func (t *Txn) stageQuota(id, resource string, delta int64) {
	m := t.quotaDelta[id]
	if m == nil {
		m = map[string]int64{}
		t.quotaDelta[id] = m
	}
	m[resource] += delta
}

// TransferQuota stages an atomic quota move. Stock resources move their
// unused balance with the quota; flow resources change only the per-tick
// allocation (see Registry.TransferQuota).
func (t *Txn) TransferQuota(from, to, resource string, amount int64) error {
	if amount <= 0 {
		return Errf(protocol.ErrValidation, "quota transfer must be positive")
	}
	kind, ok := t.k.registry.ResourceKind(resource)
	if !ok {
		return Errf(protocol.ErrValidation, "unknown resource %q", resource)
	}
	if _, err := t.principal(to); err != nil {
		return err
	}
	have, err := t.Quota(from, resource)
	if err != nil {
		return err
	}
	if have < amount {
		return Errf(protocol.ErrValidation, "insufficient %s quota: have %d, need %d", resource, have, amount)
	}
	if kind == tuning.KindStock {
		if err := t.TransferResource(from, to, resource, amount); err != nil {
			return err
		}
	}
	t.stageQuota(from, resource, -amount)
	t.stageQuota(to, resource, amount)
	return nil
}

// Owner returns the effective owner of an artifact.
func (t *Txn) Owner(artifactID string) (string, error) {
	a := t.Artifact(artifactID)
	if a == nil {
		return "", Errf(protocol.ErrNotFound, "unknown artifact %q", artifactID)
	}
	return a.Owner, nil
}

func (t *Txn) SetOwner(artifactID, owner string) error {
	a := t.Artifact(artifactID)
	if a == nil {
		return Errf(protocol.ErrNotFound, "unknown artifact %q", artifactID)
	}
	if _, err := t.principal(owner); err != nil {
		return err
	}
	t.owners[artifactID] = owner
	return nil
}

// TransferCustody moves an artifact to a new owner, moving its disk usage
// with it: the old owner's disk frees up, the new owner's is consumed. The
// whole move stages atomically; if the new owner lacks disk the transfer
// fails with no staged effect.
func (t *Txn) TransferCustody(artifactID, newOwner string) error {
	a := t.Artifact(artifactID)
	if a == nil {
		return Errf(protocol.ErrNotFound, "unknown artifact %q", artifactID)
	}
	if a.Owner == newOwner {
		return nil
	}
	if err := t.SpendResource(newOwner, "disk", a.Size()); err != nil {
		return err
	}
	if err := t.CreditResource(a.Owner, "disk", a.Size()); err != nil {
		t.stageRes(newOwner, "disk", a.Size())
		return err
	}
	return t.SetOwner(artifactID, newOwner)
}

// Artifact returns the effective artifact record: staged put/delete overlays
// the live store, and a staged ownership change overlays the owner field.
// The returned value must not be mutated; stage changes via PutArtifact.
func (t *Txn) Artifact(id string) *Artifact {
	if _, deleted := t.dels[id]; deleted {
		return nil
	}
	a := t.puts[id]
	if a == nil {
		a = t.k.store.Get(id)
	}
	if a == nil {
		return nil
	}
	if owner, ok := t.owners[id]; ok && owner != a.Owner {
		c := *a
		c.PrevOwner = a.Owner
		c.Owner = owner
		return &c
	}
	return a
}

func (t *Txn) PutArtifact(a *Artifact) {
	delete(t.dels, a.ID)
	delete(t.owners, a.ID)
	t.puts[a.ID] = a
}

func (t *Txn) DeleteArtifact(id string) {
	delete(t.puts, id)
	delete(t.owners, id)
	t.dels[id] = struct{}{}
}

// Spawn stages a new principal with the genesis scrip grant and the catalog
// quota allocation.
func (t *Txn) Spawn(id string, system bool) (*Principal, error) {
	if id == "" {
		return nil, Errf(protocol.ErrValidation, "empty principal id")
	}
	if _, exists := t.spawns[id]; exists || t.k.ledger.Exists(id) {
		return nil, Errf(protocol.ErrValidation, "principal %q already exists", id)
	}
	p := t.k.genesisPrincipal(id, t.tick, system)
	t.spawns[id] = p
	if !system && p.Scrip > 0 {
		t.minted += p.Scrip
	}
	return p, nil
}

func (t *Txn) PrincipalExists(id string) bool {
	_, err := t.principal(id)
	return err == nil
}

// UBIRecipients lists every non-system principal, ascending by id. System
// principals (genesis, escrow custodian) hold funds in custody and take no
// share of redistribution.
func (t *Txn) UBIRecipients() []string {
	var out []string
	for _, id := range t.k.ledger.PrincipalIDs() {
		if !t.k.ledger.principals[id].System {
			out = append(out, id)
		}
	}
	for id, p := range t.spawns {
		if !p.System {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Rand draws from the world's seeded RNG (tie breaks).
func (t *Txn) Rand(n int) int { return t.k.Rand(n) }

// ReadEvents returns the last count committed log entries. Entries staged
// on this transaction are not yet visible.
func (t *Txn) ReadEvents(count int) []Entry { return t.k.events.Read(count) }

func (t *Txn) Emit(typ string, payload map[string]any) {
	t.events = append(t.events, stagedEvent{typ: typ, payload: payload})
}

// Commit applies every staged effect. It cannot fail: all validation
// happened at staging time under the kernel lock.
func (t *Txn) Commit() {
	for id, p := range t.spawns {
		t.k.ledger.principals[id] = p
	}
	for id, d := range t.scripDelta {
		if d != 0 {
			t.k.ledger.principals[id].Scrip += d
		}
	}
	for id, m := range t.resDelta {
		for res, d := range m {
			if d != 0 {
				t.k.ledger.principals[id].Resources[res] += d
			}
		}
	}
	for id, m := range t.quotaDelta {
		for res, d := range m {
			if d != 0 {
				t.k.ledger.principals[id].Quotas[res] += d
			}
		}
	}
	for _, a := range t.puts {
		t.k.store.Put(a)
	}
	for id, owner := range t.owners {
		if a := t.k.store.Get(id); a != nil {
			a.PrevOwner = a.Owner
			a.Owner = owner
		}
	}
	for id := range t.dels {
		t.k.store.Delete(id)
	}
	t.k.mintedTotal += t.minted
	for _, ev := range t.events {
		t.k.appendEvent(ev.typ, ev.payload)
	}
}
