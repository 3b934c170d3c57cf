package genesis

import (
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/kernel"
)

// RightsService is the facade over the rights registry. transfer_quota
// always moves quota away from the caller: a principal cannot spend rights
// it does not hold.
type RightsService struct {
	k *kernel.Kernel
}

func NewRightsService(k *kernel.Kernel) *RightsService { return &RightsService{k: k} }

func (s *RightsService) ServiceID() string { return ServiceRights }

func (s *RightsService) Call(call *kernel.ServiceCall) (any, error) {
	switch call.Method {
	case "check_quota":
		resource, err := argString(call.Args, "resource")
		if err != nil {
			return nil, err
		}
		id := optString(call.Args, "principal")
		if id == "" {
			id = call.Caller
		}
		q, err := call.Txn.Quota(id, resource)
		if err != nil {
			return nil, err
		}
		return map[string]any{"principal": id, "resource": resource, "quota": q}, nil

	case "all_quotas":
		id := optString(call.Args, "principal")
		if id == "" {
			id = call.Caller
		}
		if !call.Txn.PrincipalExists(id) {
			return nil, kernel.Errf(protocol.ErrValidation, "unknown principal %q", id)
		}
		out := map[string]any{}
		for _, spec := range s.k.Tuning().Resources {
			q, err := call.Txn.Quota(id, spec.Name)
			if err != nil {
				return nil, err
			}
			out[spec.Name] = q
		}
		return out, nil

	case "transfer_quota":
		to, err := argString(call.Args, "to")
		if err != nil {
			return nil, err
		}
		resource, err := argString(call.Args, "resource")
		if err != nil {
			return nil, err
		}
		amount, err := argInt64(call.Args, "amount")
		if err != nil {
			return nil, err
		}
		if err := call.Txn.TransferQuota(call.Caller, to, resource, amount); err != nil {
			return nil, err
		}
		return map[string]any{"resource": resource, "amount": amount, "to": to}, nil

	default:
		return nil, kernel.Errf(protocol.ErrValidation, "unknown rights method %q", call.Method)
	}
}
