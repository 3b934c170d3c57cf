// Package genesis implements the built-in economic services: the ledger and
// rights-registry facades, the trustless escrow, the sealed-bid
// auction-and-mint, and the event log reader.
//
// Each service is an ordinary kernel Service resolved through the
// capability table; none holds privilege the action surface does not offer,
// and a conforming agent-authored implementation can replace any of them.
package genesis

import (
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/kernel"
)

// Well-known service ids.
const (
	ServiceLedger  = "svc_ledger"
	ServiceRights  = "svc_rights"
	ServiceEscrow  = "svc_escrow"
	ServiceAuction = "svc_auction"
	ServiceEvents  = "svc_events"
)

// Install registers the full genesis suite on a kernel.
func Install(k *kernel.Kernel) error {
	services := []struct {
		svc kernel.Service
		doc string
	}{
		{NewLedgerService(k), "ledger: balance, all_balances, transfer, spawn_principal, transfer_ownership"},
		{NewRightsService(k), "rights registry: check_quota, all_quotas, transfer_quota"},
		{NewEscrow(k), "escrow: deposit, purchase, cancel, check, list_active"},
		{NewAuction(k), "auction: status, bid, check"},
		{NewEventsService(k), "event log: read"},
	}
	for _, s := range services {
		if err := k.RegisterService(s.svc, s.doc); err != nil {
			return err
		}
	}
	return nil
}

// Argument helpers. Args arrive JSON-decoded, so numbers are float64.

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", kernel.Errf(protocol.ErrValidation, "missing %s", key)
	}
	return v, nil
}

func optString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argScrip(args map[string]any, key string) (scrip.Amount, error) {
	switch v := args[key].(type) {
	case string:
		a, err := scrip.Parse(v)
		if err != nil {
			return 0, kernel.Errf(protocol.ErrValidation, "bad %s: %v", key, err)
		}
		return a, nil
	case float64:
		// Whole-scrip numeric shorthand; fractional amounts must use the
		// decimal-string form to stay exact.
		if v != float64(int64(v)) {
			return 0, kernel.Errf(protocol.ErrValidation, "%s: fractional amounts must be decimal strings", key)
		}
		return scrip.FromUnits(int64(v)), nil
	default:
		return 0, kernel.Errf(protocol.ErrValidation, "missing %s", key)
	}
}

func optInt(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func argInt64(args map[string]any, key string) (int64, error) {
	v, ok := args[key].(float64)
	if !ok || v != float64(int64(v)) {
		return 0, kernel.Errf(protocol.ErrValidation, "missing or non-integer %s", key)
	}
	return int64(v), nil
}
