package genesis

import (
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/kernel"
)

// LedgerService is the thin facade over ledger operations plus principal
// spawning and artifact ownership transfer.
type LedgerService struct {
	k *kernel.Kernel
}

func NewLedgerService(k *kernel.Kernel) *LedgerService { return &LedgerService{k: k} }

func (s *LedgerService) ServiceID() string { return ServiceLedger }

func (s *LedgerService) Call(call *kernel.ServiceCall) (any, error) {
	switch call.Method {
	case "balance":
		id := optString(call.Args, "principal")
		if id == "" {
			id = call.Caller
		}
		bal, err := call.Txn.ScripBalance(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"principal": id, "scrip": bal.String()}, nil

	case "all_balances":
		out := map[string]any{}
		for _, id := range call.Txn.UBIRecipients() {
			bal, err := call.Txn.ScripBalance(id)
			if err != nil {
				return nil, err
			}
			out[id] = bal.String()
		}
		return out, nil

	case "transfer":
		to, err := argString(call.Args, "to")
		if err != nil {
			return nil, err
		}
		amount, err := argScrip(call.Args, "amount")
		if err != nil {
			return nil, err
		}
		if err := call.Txn.TransferScrip(call.Caller, to, amount); err != nil {
			return nil, err
		}
		call.Txn.Emit(protocol.EventTrade, map[string]any{
			"kind":   "transfer",
			"from":   call.Caller,
			"to":     to,
			"amount": amount.String(),
		})
		return map[string]any{"transferred": amount.String()}, nil

	case "spawn_principal":
		id, err := argString(call.Args, "principal")
		if err != nil {
			return nil, err
		}
		p, err := call.Txn.Spawn(id, false)
		if err != nil {
			return nil, err
		}
		call.Txn.Emit(protocol.EventSpawn, map[string]any{
			"principal":  id,
			"spawned_by": call.Caller,
			"scrip":      p.Scrip.String(),
		})
		return map[string]any{"principal": id}, nil

	case "transfer_ownership":
		artifactID, err := argString(call.Args, "artifact")
		if err != nil {
			return nil, err
		}
		to, err := argString(call.Args, "to")
		if err != nil {
			return nil, err
		}
		owner, err := call.Txn.Owner(artifactID)
		if err != nil {
			return nil, err
		}
		if owner != call.Caller {
			return nil, kernel.Errf(protocol.ErrAuthorization, "only the owner may transfer ownership")
		}
		if err := call.Txn.TransferCustody(artifactID, to); err != nil {
			return nil, err
		}
		return map[string]any{"artifact": artifactID, "owner": to}, nil

	default:
		return nil, kernel.Errf(protocol.ErrValidation, "unknown ledger method %q", call.Method)
	}
}
