package genesis

import (
	"sort"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/kernel"
)

// Listing states.
const (
	ListingListed    = "listed"
	ListingSold      = "sold"
	ListingCancelled = "cancelled"
)

type Listing struct {
	Artifact    string       `json:"artifact"`
	Seller      string       `json:"seller"`
	Price       scrip.Amount `json:"-"`
	Buyer       string       `json:"buyer,omitempty"` // restricted buyer, optional
	Status      string       `json:"status"`
	CreatedTick uint64       `json:"created_tick"`
}

func (l *Listing) view() map[string]any {
	return map[string]any{
		"artifact":     l.Artifact,
		"seller":       l.Seller,
		"price":        l.Price.String(),
		"buyer":        l.Buyer,
		"status":       l.Status,
		"created_tick": l.CreatedTick,
	}
}

// Escrow implements trustless artifact trade. While listed, the artifact is
// owned by the escrow custodian; purchase bundles the scrip transfer and
// the ownership transfer into one staged transaction, so either both happen
// or neither does.
type Escrow struct {
	k *kernel.Kernel

	active map[string]*Listing // artifact id -> active listing
	closed []*Listing
}

func NewEscrow(k *kernel.Kernel) *Escrow {
	return &Escrow{k: k, active: map[string]*Listing{}}
}

func (e *Escrow) ServiceID() string { return ServiceEscrow }

func (e *Escrow) Call(call *kernel.ServiceCall) (any, error) {
	switch call.Method {
	case "deposit":
		return e.deposit(call)
	case "purchase":
		return e.purchase(call)
	case "cancel":
		return e.cancel(call)
	case "check":
		return e.check(call)
	case "list_active":
		return e.listActive(call)
	default:
		return nil, kernel.Errf(protocol.ErrValidation, "unknown escrow method %q", call.Method)
	}
}

// deposit records a listing for an artifact whose ownership was already
// transferred to the custodian. Requiring the transfer up front means the
// seller, not the escrow, runs the only step that can be disputed. Only the
// principal that surrendered the artifact may list it, so nobody can slip
// in between the transfer and the deposit and claim the proceeds.
func (e *Escrow) deposit(call *kernel.ServiceCall) (any, error) {
	artifactID, err := argString(call.Args, "artifact")
	if err != nil {
		return nil, err
	}
	price, err := argScrip(call.Args, "price")
	if err != nil {
		return nil, err
	}
	if price < 0 {
		return nil, kernel.Errf(protocol.ErrValidation, "negative price")
	}
	art := call.Txn.Artifact(artifactID)
	if art == nil {
		return nil, kernel.Errf(protocol.ErrNotFound, "unknown artifact %q", artifactID)
	}
	if art.Owner != kernel.PrincipalCustodian {
		return nil, kernel.Errf(protocol.ErrAuthorization,
			"artifact must be transferred to the custodian before deposit")
	}
	if art.PrevOwner != call.Caller {
		return nil, kernel.Errf(protocol.ErrAuthorization,
			"only the principal that transferred the artifact may list it")
	}
	if e.active[artifactID] != nil {
		return nil, kernel.Errf(protocol.ErrValidation, "artifact already listed")
	}
	buyer := optString(call.Args, "buyer")
	if buyer != "" && !call.Txn.PrincipalExists(buyer) {
		return nil, kernel.Errf(protocol.ErrValidation, "unknown buyer %q", buyer)
	}

	l := &Listing{
		Artifact:    artifactID,
		Seller:      call.Caller,
		Price:       price,
		Buyer:       buyer,
		Status:      ListingListed,
		CreatedTick: call.Txn.Tick(),
	}
	call.Txn.Emit(protocol.EventTrade, map[string]any{
		"kind":     "escrow_listed",
		"artifact": artifactID,
		"seller":   call.Caller,
		"price":    price.String(),
	})
	e.active[artifactID] = l
	return l.view(), nil
}

// purchase stages the scrip transfer buyer->seller and the custody transfer
// custodian->buyer on one transaction. Both validations happen before any
// write; the commit that follows a nil return cannot fail halfway, so the
// buyer can never end up short of scrip without ownership, nor the seller
// unpaid after surrendering the artifact.
func (e *Escrow) purchase(call *kernel.ServiceCall) (any, error) {
	artifactID, err := argString(call.Args, "artifact")
	if err != nil {
		return nil, err
	}
	l := e.active[artifactID]
	if l == nil {
		return nil, kernel.Errf(protocol.ErrNotFound, "no active listing for %q", artifactID)
	}
	if l.Buyer != "" && l.Buyer != call.Caller {
		return nil, kernel.Errf(protocol.ErrAuthorization, "listing restricted to another buyer")
	}
	if err := call.Txn.TransferScrip(call.Caller, l.Seller, l.Price); err != nil {
		return nil, err
	}
	if err := call.Txn.TransferCustody(artifactID, call.Caller); err != nil {
		return nil, err
	}
	call.Txn.Emit(protocol.EventTrade, map[string]any{
		"kind":     "escrow_sold",
		"artifact": artifactID,
		"seller":   l.Seller,
		"buyer":    call.Caller,
		"price":    l.Price.String(),
	})

	l.Status = ListingSold
	delete(e.active, artifactID)
	e.closed = append(e.closed, l)
	return l.view(), nil
}

func (e *Escrow) cancel(call *kernel.ServiceCall) (any, error) {
	artifactID, err := argString(call.Args, "artifact")
	if err != nil {
		return nil, err
	}
	l := e.active[artifactID]
	if l == nil {
		return nil, kernel.Errf(protocol.ErrNotFound, "no active listing for %q", artifactID)
	}
	if l.Seller != call.Caller {
		return nil, kernel.Errf(protocol.ErrAuthorization, "only the seller may cancel")
	}
	if err := call.Txn.TransferCustody(artifactID, l.Seller); err != nil {
		return nil, err
	}
	call.Txn.Emit(protocol.EventTrade, map[string]any{
		"kind":     "escrow_cancelled",
		"artifact": artifactID,
		"seller":   l.Seller,
	})

	l.Status = ListingCancelled
	delete(e.active, artifactID)
	e.closed = append(e.closed, l)
	return l.view(), nil
}

func (e *Escrow) check(call *kernel.ServiceCall) (any, error) {
	artifactID, err := argString(call.Args, "artifact")
	if err != nil {
		return nil, err
	}
	if l := e.active[artifactID]; l != nil {
		return l.view(), nil
	}
	for i := len(e.closed) - 1; i >= 0; i-- {
		if e.closed[i].Artifact == artifactID {
			return e.closed[i].view(), nil
		}
	}
	return nil, kernel.Errf(protocol.ErrNotFound, "no listing for %q", artifactID)
}

func (e *Escrow) listActive(call *kernel.ServiceCall) (any, error) {
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.active[id].view())
	}
	return out, nil
}
