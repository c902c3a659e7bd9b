package presence

import "encoding/json"

// Relay socket opcodes
const (
	opEvent      = 0
	opHello      = 1
	opInitialize = 2
	opHeartbeat  = 3
)

// Event names carrying a presence payload
const (
	eventInitState      = "INIT_STATE"
	eventPresenceUpdate = "PRESENCE_UPDATE"
)

// message is one frame received from the relay
type message struct {
	Op   int             `json:"op"`
	Seq  int             `json:"seq,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// outgoing is one frame sent to the relay
type outgoing struct {
	Op   int `json:"op"`
	Data any `json:"d,omitempty"`
}

type hello struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type initialize struct {
	SubscribeToID string `json:"subscribe_to_id"`
}
