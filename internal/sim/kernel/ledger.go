package kernel

import (
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

// Ledger holds scrip and physical-resource balances for every principal.
// It is a singleton mutated only through the kernel: callers must hold the
// kernel lock, which is why none of these methods lock.
type Ledger struct {
	principals map[string]*Principal
}

func newLedger() *Ledger {
	return &Ledger{principals: map[string]*Principal{}}
}

func (l *Ledger) principal(id string) (*Principal, *CodedError) {
	p := l.principals[id]
	if p == nil {
		return nil, Errf(protocol.ErrValidation, "unknown principal %q", id)
	}
	return p, nil
}

func (l *Ledger) Exists(id string) bool { return l.principals[id] != nil }

// PrincipalIDs returns all principal ids in unspecified order.
func (l *Ledger) PrincipalIDs() []string {
	out := make([]string, 0, len(l.principals))
	for id := range l.principals {
		out = append(out, id)
	}
	return out
}

func (l *Ledger) GetScrip(id string) (scrip.Amount, error) {
	p, err := l.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Scrip, nil
}

func (l *Ledger) CreditScrip(id string, amount scrip.Amount) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative credit")
	}
	p, err := l.principal(id)
	if err != nil {
		return err
	}
	p.Scrip += amount
	return nil
}

func (l *Ledger) DeductScrip(id string, amount scrip.Amount) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative deduction")
	}
	p, err := l.principal(id)
	if err != nil {
		return err
	}
	if p.Scrip < amount {
		return Errf(protocol.ErrValidation, "insufficient scrip: have %s, need %s", p.Scrip, amount)
	}
	p.Scrip -= amount
	return nil
}

// TransferScrip is atomic: an insufficient source balance fails the whole
// transfer with no partial effect.
func (l *Ledger) TransferScrip(from, to string, amount scrip.Amount) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative transfer")
	}
	src, err := l.principal(from)
	if err != nil {
		return err
	}
	dst, err := l.principal(to)
	if err != nil {
		return err
	}
	if src.Scrip < amount {
		return Errf(protocol.ErrValidation, "insufficient scrip: have %s, need %s", src.Scrip, amount)
	}
	src.Scrip -= amount
	dst.Scrip += amount
	return nil
}

func (l *Ledger) GetResource(id, resource string) (int64, error) {
	p, err := l.principal(id)
	if err != nil {
		return 0, err
	}
	return p.Resources[resource], nil
}

func (l *Ledger) CreditResource(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative credit")
	}
	p, err := l.principal(id)
	if err != nil {
		return err
	}
	p.Resources[resource] += amount
	return nil
}

func (l *Ledger) SpendResource(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative spend")
	}
	p, err := l.principal(id)
	if err != nil {
		return err
	}
	if p.Resources[resource] < amount {
		return Errf(protocol.ErrValidation, "insufficient %s: have %d, need %d",
			resource, p.Resources[resource], amount)
	}
	p.Resources[resource] -= amount
	return nil
}

// SetResource is used only at tick boundaries to reset flow balances to the
// per-tick quota, discarding any unused residual.
func (l *Ledger) SetResource(id, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative balance")
	}
	p, err := l.principal(id)
	if err != nil {
		return err
	}
	p.Resources[resource] = amount
	return nil
}

func (l *Ledger) TransferResource(from, to, resource string, amount int64) error {
	if amount < 0 {
		return Errf(protocol.ErrValidation, "negative transfer")
	}
	src, err := l.principal(from)
	if err != nil {
		return err
	}
	dst, err := l.principal(to)
	if err != nil {
		return err
	}
	if src.Resources[resource] < amount {
		return Errf(protocol.ErrValidation, "insufficient %s: have %d, need %d",
			resource, src.Resources[resource], amount)
	}
	src.Resources[resource] -= amount
	dst.Resources[resource] += amount
	return nil
}

// TotalScrip sums every balance. Used by conservation checks and the state
// digest.
func (l *Ledger) TotalScrip() scrip.Amount {
	var sum scrip.Amount
	for _, p := range l.principals {
		sum += p.Scrip
	}
	return sum
}
