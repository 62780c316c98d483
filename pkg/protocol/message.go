package protocol

import "encoding/json"

// Message is the single frame shape exchanged with clients. A frame
// carries either a chat payload (name, message, timestamp) or exactly
// one system notice; consumers distinguish by which field is present.
type Message struct {
	// Chat payload fields.
	Name      string `json:"name,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// System notice fields.
	Joined string `json:"joined,omitempty"`
	Quit   string `json:"quit,omitempty"`
	Error  string `json:"error,omitempty"`
	Ready  bool   `json:"ready,omitempty"`

	// Session rides on the ready notice: the resume token the client
	// presents on reconnect to restore its session.
	Session string `json:"session,omitempty"`
}

// Inbound is a client frame: the first frame of a connection names the
// session, every later frame is a chat-send attempt.
type Inbound struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chat builds an outbound chat message.
func Chat(name, text string, timestamp int64) Message {
	return Message{Name: name, Message: text, Timestamp: timestamp}
}

// JoinedNotice announces a peer that has named itself.
func JoinedNotice(name string) Message { return Message{Joined: name} }

// QuitNotice announces a departed peer.
func QuitNotice(name string) Message { return Message{Quit: name} }

// ErrorNotice carries a recoverable error to one client.
func ErrorNotice(text string) Message { return Message{Error: text} }

// ReadyNotice signals that replay is complete and chat may begin. It
// carries the session's resume token.
func ReadyNotice(sessionToken string) Message {
	return Message{Ready: true, Session: sessionToken}
}

// IsChat reports whether the message is a timestamped chat payload.
func (m Message) IsChat() bool {
	return m.Message != "" && m.Timestamp != 0
}

// IsSystem reports whether the message is a system notice.
func (m Message) IsSystem() bool {
	return m.Joined != "" || m.Quit != "" || m.Error != "" || m.Ready
}

// Encode marshals the message for the wire. Marshaling a flat struct
// of strings and scalars cannot fail.
func (m Message) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// DecodeInbound parses a client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, ErrMalformedFrame
	}
	return in, nil
}
