package genesis

import (
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/kernel"
)

// EventsService exposes the append-only event log to principals.
type EventsService struct {
	k *kernel.Kernel
}

func NewEventsService(k *kernel.Kernel) *EventsService { return &EventsService{k: k} }

func (s *EventsService) ServiceID() string { return ServiceEvents }

func (s *EventsService) Call(call *kernel.ServiceCall) (any, error) {
	switch call.Method {
	case "read":
		count := optInt(call.Args, "count", 100)
		entries := call.Txn.ReadEvents(count)
		out := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]any{
				"tick":    e.Tick,
				"seq":     e.Seq,
				"type":    e.Type,
				"payload": e.Payload,
			})
		}
		return out, nil
	default:
		return nil, kernel.Errf(protocol.ErrValidation, "unknown event log method %q", call.Method)
	}
}
