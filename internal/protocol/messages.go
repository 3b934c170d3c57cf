package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PrincipalName   string `json:"principal_name"`
	ResumeToken     string `json:"resume_token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	PrincipalID     string      `json:"principal_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz         int    `json:"tick_rate_hz"`
	Seed               int64  `json:"seed"`
	AuctionCycleTicks  uint64 `json:"auction_cycle_ticks"`
	BiddingWindowTicks uint64 `json:"bidding_window_ticks"`
	GraceTicks         uint64 `json:"grace_ticks"`
	MintRatio          int64  `json:"mint_ratio"`
}

// ACT (client -> server): a batch of kernel actions from one principal.
type ActMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	PrincipalID     string      `json:"principal_id,omitempty"`
	Actions         []ActionReq `json:"actions"`
}

type ActionReq struct {
	ID         string `json:"id"`
	Type       string `json:"action"`
	ArtifactID string `json:"artifact_id"`

	// WRITE fields.
	Content        string        `json:"content,omitempty"`
	ContentType    string        `json:"content_type,omitempty"`
	Code           string        `json:"code,omitempty"`
	Price          string        `json:"price,omitempty"`
	ReadPrice      string        `json:"read_price,omitempty"`
	ResourcePolicy string        `json:"resource_policy,omitempty"`
	Access         *AccessPolicy `json:"access,omitempty"`

	// INVOKE fields.
	Method string         `json:"method,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

type AccessPolicy struct {
	Mode  string   `json:"mode"`
	Allow []string `json:"allow,omitempty"`
}

// RESULT (server -> client): one per action in an ACT.
type ResultMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Ref             string           `json:"ref"`
	Tick            uint64           `json:"tick"`
	OK              bool             `json:"ok"`
	Code            string           `json:"code,omitempty"`
	Message         string           `json:"message,omitempty"`
	ChargedTo       string           `json:"charged_to,omitempty"`
	Consumed        map[string]int64 `json:"resources_consumed,omitempty"`
	Value           any              `json:"value,omitempty"`
}
