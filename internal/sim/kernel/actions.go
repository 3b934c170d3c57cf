package kernel

import (
	"scripcraft.ai/internal/protocol"
)

const diskResource = "disk"

func (k *Kernel) applyRead(p *Principal, act Action) ActionResult {
	a := k.store.Get(act.ArtifactID)
	if a == nil {
		return failure(protocol.ErrNotFound, "unknown artifact "+act.ArtifactID)
	}
	if !a.Access.Permits(p.ID, a.Owner) {
		return failure(protocol.ErrAuthorization, "read not permitted")
	}

	txn := k.newTxn()
	res := ActionResult{Success: true, ChargedTo: p.ID}
	if a.ReadPrice > 0 && p.ID != a.Owner {
		if err := txn.TransferScrip(p.ID, a.Owner, a.ReadPrice); err != nil {
			ce := AsCoded(err)
			return failure(ce.Code, ce.Message)
		}
		res.Message = "read (paid " + a.ReadPrice.String() + ")"
	}
	txn.Commit()

	res.Value = map[string]any{
		"artifact_id":  a.ID,
		"owner":        a.Owner,
		"content":      string(a.Content),
		"content_type": a.ContentType,
		"size":         a.Size(),
		"price":        a.Price.String(),
		"read_price":   a.ReadPrice.String(),
		"executable":   a.Code != "",
		"methods":      a.Methods,
		"created_by":   a.Provenance.CreatedBy,
		"created_at":   a.Provenance.CreatedAtTick,
	}
	return res
}

func (k *Kernel) applyWrite(p *Principal, act Action) ActionResult {
	if act.ArtifactID == "" {
		return failure(protocol.ErrValidation, "empty artifact id")
	}
	prev := k.store.Get(act.ArtifactID)
	if prev != nil {
		if prev.Service != "" {
			return failure(protocol.ErrAuthorization, "service artifacts are not writable")
		}
		if prev.Owner != p.ID {
			return failure(protocol.ErrAuthorization, "only the owner may write")
		}
	}

	next := &Artifact{
		ID:             act.ArtifactID,
		Owner:          p.ID,
		Content:        append([]byte(nil), act.Content...),
		ContentType:    act.ContentType,
		Code:           act.Code,
		Price:          act.Price,
		ReadPrice:      act.ReadPrice,
		ResourcePolicy: act.ResourcePolicy,
	}
	if next.ResourcePolicy == "" {
		next.ResourcePolicy = protocol.PolicyCallerPays
	}
	if act.Access != nil {
		next.Access = *act.Access
	}
	if prev != nil {
		next.Provenance = prev.Provenance
	} else {
		next.Provenance = Provenance{CreatedBy: p.ID, CreatedAtTick: k.tick}
	}
	if act.Code != "" && k.engine != nil {
		methods, err := k.engine.Methods(act.Code)
		if err != nil {
			return failure(protocol.ErrValidation, "bad artifact code: "+err.Error())
		}
		next.Methods = methods
	}

	var prevSize int64
	if prev != nil {
		prevSize = prev.Size()
	}
	delta := next.Size() - prevSize

	txn := k.newTxn()
	if delta > 0 {
		if err := txn.SpendResource(p.ID, diskResource, delta); err != nil {
			txn2 := k.newTxn()
			txn2.Emit(protocol.EventQuotaExhausted, map[string]any{
				"principal": p.ID,
				"resource":  diskResource,
				"requested": delta,
			})
			txn2.Commit()
			return failure(protocol.ErrQuotaExceeded, AsCoded(err).Message)
		}
	} else if delta < 0 {
		if err := txn.CreditResource(p.ID, diskResource, -delta); err != nil {
			ce := AsCoded(err)
			return failure(ce.Code, ce.Message)
		}
	}
	txn.PutArtifact(next)
	txn.Commit()

	res := success("written")
	res.ChargedTo = p.ID
	if delta > 0 {
		res.ResourcesConsumed = map[string]int64{diskResource: delta}
	}
	res.Value = map[string]any{"artifact_id": next.ID, "size": next.Size()}
	return res
}

func (k *Kernel) applyDelete(p *Principal, act Action) ActionResult {
	a := k.store.Get(act.ArtifactID)
	if a == nil {
		return failure(protocol.ErrNotFound, "unknown artifact "+act.ArtifactID)
	}
	if a.Service != "" {
		return failure(protocol.ErrAuthorization, "service artifacts are not deletable")
	}
	if a.Owner != p.ID {
		return failure(protocol.ErrAuthorization, "only the owner may delete")
	}

	txn := k.newTxn()
	if err := txn.CreditResource(p.ID, diskResource, a.Size()); err != nil {
		ce := AsCoded(err)
		return failure(ce.Code, ce.Message)
	}
	txn.DeleteArtifact(a.ID)
	txn.Commit()

	res := success("deleted")
	res.ChargedTo = p.ID
	return res
}
