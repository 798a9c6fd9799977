package protocol

// HELLO (observer -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// SinceTick lets a reconnecting observer ask for events from a
	// given tick onward (best effort; the feed is at-least-once).
	SinceTick uint64 `json:"since_tick,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	RideParams      RideParams `json:"ride_params"`
}

type RideParams struct {
	TickRateHz      int      `json:"tick_rate_hz"`
	Blocks          int      `json:"blocks"`
	Devices         []string `json:"devices"`
	MaxActiveTrains int      `json:"max_active_trains"`
}

// EVENT_BATCH (server -> observer): all events published in one tick.
type EventBatchMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Mode            string  `json:"mode"`
	Events          []Event `json:"events"`
}

// COMMAND (operator -> server): applied at the next tick boundary in
// receive order.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Command         string `json:"command"`
	Device          string `json:"device,omitempty"`
	Position        int    `json:"position,omitempty"`
	On              bool   `json:"on,omitempty"`
}

// COMMAND_RESULT (server -> observer)
type CommandResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
