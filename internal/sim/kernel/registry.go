package kernel

import (
	"sort"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/tuning"
)

// Registry is the rights registry: per-principal, per-resource quotas,
// distinct from current balances. Like the ledger it relies on the kernel
// lock for serialization.
type Registry struct {
	ledger  *Ledger
	catalog map[string]tuning.ResourceSpec
}

func newRegistry(l *Ledger, specs []tuning.ResourceSpec) *Registry {
	cat := make(map[string]tuning.ResourceSpec, len(specs))
	for _, s := range specs {
		cat[s.Name] = s
	}
	return &Registry{ledger: l, catalog: cat}
}

func (r *Registry) ResourceKind(resource string) (string, bool) {
	s, ok := r.catalog[resource]
	if !ok {
		return "", false
	}
	return s.Kind, true
}

func (r *Registry) GetQuota(id, resource string) (int64, error) {
	p, err := r.ledger.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Quotas[resource], nil
}

func (r *Registry) AllQuotas(id string) (map[string]int64, error) {
	p, err := r.ledger.principal(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(p.Quotas))
	for k, v := range p.Quotas {
		out[k] = v
	}
	return out, nil
}

func (r *Registry) SetQuota(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative quota")
	}
	if _, ok := r.catalog[resource]; !ok {
		return Errf(protocol.ErrValidation, "unknown resource %q", resource)
	}
	p, err := r.ledger.principal(id)
	if err != nil {
		return err
	}
	p.Quotas[resource] = amount
	return nil
}

// TransferQuota moves an indivisible quota amount atomically between two
// principals. For a stock resource the unused balance moves with the quota,
// so a principal can never transfer capacity it has already consumed. For a
// flow resource the transfer permanently changes the recipient's per-tick
// allocation; current balances are untouched until the next tick boundary.
func (r *Registry) TransferQuota(from, to, resource string, amount int64) error {
	if amount <= 0 {
		return Errf(protocol.ErrValidation, "quota transfer must be positive")
	}
	kind, ok := r.ResourceKind(resource)
	if !ok {
		return Errf(protocol.ErrValidation, "unknown resource %q", resource)
	}
	src, err := r.ledger.principal(from)
	if err != nil {
		return err
	}
	dst, err := r.ledger.principal(to)
	if err != nil {
		return err
	}
	if src.Quotas[resource] < amount {
		return Errf(protocol.ErrValidation, "insufficient %s quota: have %d, need %d",
			resource, src.Quotas[resource], amount)
	}
	if kind == tuning.KindStock && src.Resources[resource] < amount {
		return Errf(protocol.ErrValidation, "insufficient unused %s: have %d, need %d",
			resource, src.Resources[resource], amount)
	}
	src.Quotas[resource] -= amount
	dst.Quotas[resource] += amount
	if kind == tuning.KindStock {
		src.Resources[resource] -= amount
		dst.Resources[resource] += amount
	}
	return nil
}

// QuotaSnapshot is the immutable per-tick view of every principal's flow
// quotas, taken once at the tick boundary and read-only for the tick's
// duration.
type QuotaSnapshot struct {
	Tick  uint64
	Flows map[string]map[string]int64 // principal -> resource -> quota
}

func (r *Registry) FlowSnapshot(tick uint64) QuotaSnapshot {
	snap := QuotaSnapshot{Tick: tick, Flows: map[string]map[string]int64{}}
	ids := r.ledger.PrincipalIDs()
	sort.Strings(ids)
	for _, id := range ids {
		p := r.ledger.principals[id]
		for name, spec := range r.catalog {
			if spec.Kind != tuning.KindFlow {
				continue
			}
			m := snap.Flows[id]
			if m == nil {
				m = map[string]int64{}
				snap.Flows[id] = m
			}
			m[name] = p.Quotas[name]
		}
	}
	return snap
}
