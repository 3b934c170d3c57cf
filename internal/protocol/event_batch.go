package protocol

// Event is a type-tagged log entry payload. "tick", "seq" and "type" keys
// are always present.
type Event map[string]any

// Event type tags.
const (
	EventWorldInit      = "WORLD_INIT"
	EventTickBoundary   = "TICK"
	EventAction         = "ACTION"
	EventSpawn          = "SPAWN"
	EventTrade          = "TRADE"
	EventMint           = "MINT"
	EventUBI            = "UBI"
	EventQuotaExhausted = "QUOTA_EXHAUSTED"
	EventAuctionPhase   = "AUCTION_PHASE"
)

// EVENT_BATCH_REQ (client -> server)
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceSeq        uint64 `json:"since_seq"`
	Limit           int    `json:"limit"`
}

type EventBatchItem struct {
	Seq   uint64 `json:"seq"`
	Event Event  `json:"event"`
}

// EVENT_BATCH (server -> client)
//
// Consumers must treat NextSeq < SinceSeq as a log truncation/restart
// signal and re-synchronize from zero.
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextSeq         uint64           `json:"next_seq"`
}
