// Package protocol defines the wire protocol messages exchanged between the
// jamlink server and its participants (session hosts and clients) over
// WebSocket.
//
// All messages are flat JSON records tagged by a "type" field. Negotiation
// payloads (SDP offers/answers, ICE candidates) and audio data are opaque to
// the server and relayed verbatim.
package protocol

import "encoding/json"

// --- Message type constants ---

const (
	// Participant → server
	TypeHostCreateSession  = "host_create_session"
	TypeClientJoinSession  = "client_join_session"
	TypeWebRTCOffer        = "webrtc_offer"
	TypeWebRTCAnswer       = "webrtc_answer"
	TypeWebRTCICECandidate = "webrtc_ice_candidate"
	TypeSyncState          = "sync_state"
	TypeAudioChunk         = "audio_chunk"

	// Server → participant
	TypeSessionCreated = "session_created"
	TypeJoinedSession  = "joined_session"
	TypeClientJoined   = "client_joined"
	TypeError          = "error"
)

// Head is the minimal shape decoded first to dispatch on the type tag.
type Head struct {
	Type string `json:"type"`
}

// --- Participant → server ---

// HostCreateSession registers the sender as the host of a new session.
type HostCreateSession struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
}

// ClientJoinSession adds the sender to an existing session's client list.
type ClientJoinSession struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	ClientName string `json:"client_name"`
}

// WebRTCOffer carries an SDP offer to a specific connection. The server fills
// FromID with the sender's connection ID when forwarding.
type WebRTCOffer struct {
	Type     string          `json:"type"`
	TargetID string          `json:"target_id,omitempty"`
	Offer    json.RawMessage `json:"offer"`
	FromID   string          `json:"from_id,omitempty"`
}

// WebRTCAnswer carries an SDP answer to a specific connection.
type WebRTCAnswer struct {
	Type     string          `json:"type"`
	TargetID string          `json:"target_id,omitempty"`
	Answer   json.RawMessage `json:"answer"`
	FromID   string          `json:"from_id,omitempty"`
}

// WebRTCICECandidate carries an ICE candidate to a specific connection.
type WebRTCICECandidate struct {
	Type      string          `json:"type"`
	TargetID  string          `json:"target_id,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	FromID    string          `json:"from_id,omitempty"`
}

// SyncState reports playback state; the server rebroadcasts it to every other
// session member. BPM and CurrentTrack are optional and serialized as null
// when absent, matching what clients expect.
type SyncState struct {
	Type             string   `json:"type"`
	SessionID        string   `json:"session_id,omitempty"`
	PlaybackPosition float64  `json:"playback_position"`
	IsPlaying        bool     `json:"is_playing"`
	Timestamp        float64  `json:"timestamp"`
	BPM              *float64 `json:"bpm"`
	CurrentTrack     *string  `json:"current_track"`
}

// AudioChunk carries a slice of encoded audio; the server relays the payload
// without inspecting it.
type AudioChunk struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	AudioData json.RawMessage `json:"audio_data"`
	Timestamp float64         `json:"timestamp"`
	ChunkID   json.RawMessage `json:"chunk_id"`
}

// --- Server → participant ---

// SessionCreated confirms session creation to the host.
type SessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// JoinedSession confirms a successful join to the client.
type JoinedSession struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ClientJoined notifies a session's host that a client joined.
type ClientJoined struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
}

// ErrorMessage carries a one-off error reply to the originating connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
