package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello         = "HELLO"
	TypeWelcome       = "WELCOME"
	TypeAct           = "ACT"
	TypeResult        = "RESULT"
	TypeEventBatchReq = "EVENT_BATCH_REQ"
	TypeEventBatch    = "EVENT_BATCH"
)

// Action types carried inside an ACT envelope.
const (
	ActionRead   = "READ_ARTIFACT"
	ActionWrite  = "WRITE_ARTIFACT"
	ActionInvoke = "INVOKE_ARTIFACT"
	ActionDelete = "DELETE_ARTIFACT"
)

// Artifact resource policies.
const (
	PolicyCallerPays = "caller_pays"
	PolicyOwnerPays  = "owner_pays"
)

// Artifact access modes.
const (
	AccessPublic    = "public"
	AccessOwnerOnly = "owner_only"
	AccessAllowList = "allow_list"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
