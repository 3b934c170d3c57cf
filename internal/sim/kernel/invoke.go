package kernel

import (
	"context"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

const computeResource = "compute"

func (k *Kernel) applyInvoke(p *Principal, act Action) ActionResult {
	a := k.store.Get(act.ArtifactID)
	if a == nil {
		return failure(protocol.ErrNotFound, "unknown artifact "+act.ArtifactID)
	}
	if a.Service != "" {
		return k.invokeService(p, a, act)
	}
	if a.Code == "" {
		return failure(protocol.ErrValidation, "artifact is not executable")
	}
	// An artifact held by the escrow custodian is not invocable until its
	// listing resolves.
	if a.Owner == PrincipalCustodian {
		return failure(protocol.ErrAuthorization, "artifact is held in escrow")
	}
	if !a.Access.Permits(p.ID, a.Owner) {
		return failure(protocol.ErrAuthorization, "invoke not permitted")
	}
	if k.engine == nil {
		return failure(protocol.ErrValidation, "no execution engine configured")
	}

	payer := p.ID
	if a.ResourcePolicy == protocol.PolicyOwnerPays {
		payer = a.Owner
	}
	// The scrip price must be affordable before any code runs.
	if a.Price > 0 && p.ID != a.Owner {
		if bal, err := k.ledger.GetScrip(p.ID); err != nil || bal < a.Price {
			return failure(protocol.ErrValidation, "insufficient scrip for invoke price")
		}
	}

	txn := k.newTxn()
	caps := &invokeCaps{txn: txn, owner: a.Owner}
	ctx, cancel := context.WithTimeout(context.Background(), k.invokeBudget)
	defer cancel()

	out, execErr := k.engine.Run(ctx, Invocation{
		Code:   a.Code,
		Method: act.Method,
		Args:   act.Args,
		Caps:   caps,
	})

	consumed := out.Elapsed.Milliseconds()
	if consumed < 1 {
		consumed = 1
	}
	// Effective balance includes anything the code transferred away via a
	// capability; overdrawing that is an execution failure too.
	effBudget, _ := txn.ResourceBalance(payer, computeResource)

	if execErr != nil || consumed > effBudget {
		// Resources actually consumed before the failure were physically
		// spent and stay charged; everything else, staged side effects and
		// the scrip price, is discarded.
		live, _ := k.ledger.GetResource(payer, computeResource)
		charge := consumed
		if charge > live {
			charge = live
		}
		if charge > 0 {
			_ = k.ledger.SpendResource(payer, computeResource, charge)
		}
		msg := "execution exceeded compute budget"
		if execErr != nil {
			msg = execErr.Error()
		}
		if consumed > effBudget {
			k.appendEvent(protocol.EventQuotaExhausted, map[string]any{
				"principal": payer,
				"resource":  computeResource,
				"requested": consumed,
			})
		}
		return ActionResult{
			Code:              protocol.ErrExecution,
			Message:           msg,
			ChargedTo:         payer,
			ResourcesConsumed: map[string]int64{computeResource: charge},
		}
	}

	// Success: resource charge, scrip price and the execution's staged side
	// effects commit together or not at all.
	if err := txn.SpendResource(payer, computeResource, consumed); err != nil {
		ce := AsCoded(err)
		return failure(ce.Code, ce.Message)
	}
	if a.Price > 0 && p.ID != a.Owner {
		if err := txn.TransferScrip(p.ID, a.Owner, a.Price); err != nil {
			ce := AsCoded(err)
			return failure(ce.Code, ce.Message)
		}
	}
	txn.Commit()

	value := out.Value
	if caps.emitted != nil {
		value = caps.emitted
	}
	return ActionResult{
		Success:           true,
		ChargedTo:         payer,
		ResourcesConsumed: map[string]int64{computeResource: consumed},
		Value:             value,
	}
}

func (k *Kernel) invokeService(p *Principal, a *Artifact, act Action) ActionResult {
	svc := k.services[a.Service]
	if svc == nil {
		return failure(protocol.ErrInternal, "service not resolved: "+a.Service)
	}
	txn := k.newTxn()
	value, err := svc.Call(&ServiceCall{
		Caller: p.ID,
		Method: act.Method,
		Args:   act.Args,
		Txn:    txn,
	})
	if err != nil {
		ce := AsCoded(err)
		return failure(ce.Code, ce.Message)
	}
	txn.Commit()
	res := success("")
	res.ChargedTo = p.ID
	res.Value = value
	return res
}

// invokeCaps stages capability effects on the invocation's transaction, so
// they commit or vanish together with the charges. Capability actions run
// on behalf of the artifact's owner.
type invokeCaps struct {
	txn     *Txn
	owner   string
	emitted any
}

func (c *invokeCaps) Pay(to string, amount scrip.Amount) error {
	return c.txn.TransferScrip(c.owner, to, amount)
}

func (c *invokeCaps) TransferResource(to, resource string, amount int64) error {
	return c.txn.TransferResource(c.owner, to, resource, amount)
}

func (c *invokeCaps) ReadArtifact(id string) ([]byte, bool) {
	a := c.txn.Artifact(id)
	if a == nil || !a.Access.Permits(c.owner, a.Owner) {
		return nil, false
	}
	return a.Content, true
}

func (c *invokeCaps) Emit(v any) { c.emitted = v }
