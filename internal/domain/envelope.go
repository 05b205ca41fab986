package domain

import "encoding/json"

// Request is the {method, data} payload of a request event.
type Request struct {
	Method Method          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals Data into v. Absent data leaves v untouched.
func (r Request) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return NewError(CodeBadRequest, "malformed data for "+string(r.Method))
	}
	return nil
}

// Notification is the {method, data} payload of a notification event.
type Notification struct {
	Method Method `json:"method"`
	Data   any    `json:"data,omitempty"`
}

// JoinAck answers a join request.
type JoinAck struct {
	Peers  []PeerInfo `json:"peers"`
	Joined bool       `json:"joined"`
}

// PeerClosed is the payload of peerClosed and mainPeerClosed.
type PeerClosed struct {
	PeerID UserID `json:"peerId"`
}
