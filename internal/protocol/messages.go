package protocol

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name,omitempty"`
}

type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Worlds          []string `json:"worlds"`
}

type QueryRulesMsg struct {
	Type  string `json:"type"`
	World string `json:"world"`
	Item  string `json:"item"`
}

// RuleInfo is one configured action rule, flattened for tooling.
type RuleInfo struct {
	Action     string   `json:"action"`
	Messages   []string `json:"messages,omitempty"`
	Log        bool     `json:"log,omitempty"`
	CooldownMS int64    `json:"cooldown_ms,omitempty"`
	Permission string   `json:"permission,omitempty"`
	Custom     string   `json:"custom,omitempty"`
}

type RulesMsg struct {
	Type  string     `json:"type"`
	World string     `json:"world"`
	Item  string     `json:"item"`
	Rules []RuleInfo `json:"rules"`
}

type SubscribeMsg struct {
	Type string `json:"type"`
}

// DecisionMsg mirrors one engine record onto the stream.
type DecisionMsg struct {
	Type     string `json:"type"`
	TS       string `json:"ts"`
	PlayerID string `json:"player_id,omitempty"`
	Player   string `json:"player,omitempty"`
	World    string `json:"world"`
	Item     string `json:"item"`
	Custom   string `json:"custom,omitempty"`
	Action   string `json:"action"`
	Source   string `json:"source"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
