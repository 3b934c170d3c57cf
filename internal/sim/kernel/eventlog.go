package kernel

// Entry is one append-only event log record, globally ordered by
// (Tick, Seq). Seq is monotonically increasing across the whole log.
type Entry struct {
	Tick    uint64         `json:"tick"`
	Seq     uint64         `json:"seq"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventSink mirrors appended entries to persistence. A nil sink is valid.
// Sink errors are reported to the kernel's logger, never to principals.
type EventSink interface {
	WriteEvent(Entry) error
}

type EventLog struct {
	entries []Entry
	nextSeq uint64
}

func newEventLog() *EventLog { return &EventLog{} }

func (el *EventLog) Append(tick uint64, typ string, payload map[string]any) Entry {
	e := Entry{Tick: tick, Seq: el.nextSeq, Type: typ, Payload: payload}
	el.nextSeq++
	el.entries = append(el.entries, e)
	return e
}

// Read returns the last count entries in log order. count <= 0 returns the
// whole log.
func (el *EventLog) Read(count int) []Entry {
	n := len(el.entries)
	if count <= 0 || count > n {
		count = n
	}
	out := make([]Entry, count)
	copy(out, el.entries[n-count:])
	return out
}

// ReadSince returns up to limit entries with Seq >= since, plus the next
// sequence number a consumer should resume from. A consumer whose since
// exceeds NextSeq has observed a truncated/restarted log and must restart
// from zero.
func (el *EventLog) ReadSince(since uint64, limit int) ([]Entry, uint64) {
	if limit <= 0 {
		limit = 256
	}
	var out []Entry
	for _, e := range el.entries {
		if e.Seq < since {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	next := since
	if n := len(out); n > 0 {
		next = out[n-1].Seq + 1
	}
	return out, next
}

func (el *EventLog) Len() int        { return len(el.entries) }
func (el *EventLog) NextSeq() uint64 { return el.nextSeq }
