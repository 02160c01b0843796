// Package router interprets typed messages from participant WebSocket
// connections and routes them: directed WebRTC negotiation forwards, session
// membership changes, and playback/audio broadcasts to session members.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jamlink/jamlink/internal/registry"
	"github.com/jamlink/jamlink/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// session is a live routing group: one host plus its clients in join order.
// Clients may appear more than once; repeated joins are not de-duplicated.
type session struct {
	hostID  string
	name    string
	clients []string
}

// Router owns the session table and drives sends through the connection
// registry. A session lives exactly as long as its host's connection.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	maxMessageSize int64

	mu       sync.Mutex
	sessions map[string]*session
}

// Options configures the Router.
type Options struct {
	AllowedOrigins  []string // for WebSocket origin check
	MaxMessageBytes int64    // max WebSocket message size (default 1MB, audio chunks are large)
}

// New creates a new Router on top of reg.
func New(reg *registry.Registry, logger *slog.Logger, opts Options) *Router {
	maxMsg := opts.MaxMessageBytes
	if maxMsg == 0 {
		maxMsg = 1024 * 1024 // 1MB default
	}

	return &Router{
		registry:       reg,
		logger:         logger.With("component", "router"),
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		maxMessageSize: maxMsg,
		sessions:       make(map[string]*session),
	}
}

// HandleWS serves a participant WebSocket connection identified by
// connectionID. It registers the connection, reads messages strictly
// sequentially until the transport closes, then runs disconnect cleanup.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request, connectionID string) {
	if connectionID == "" {
		http.Error(w, "missing connection id", http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ws.SetReadLimit(r.maxMessageSize)

	conn := r.registry.Register(connectionID, ws)
	defer func() { _ = conn.Close() }()

	stopKeepalive := conn.StartKeepalive()
	defer stopKeepalive()

	r.logger.Info("participant connected", "conn_id", connectionID)
	defer func() {
		r.disconnect(conn)
		r.logger.Info("participant disconnected", "conn_id", connectionID)
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			r.logger.Debug("read error", "conn_id", connectionID, "error", err)
			return
		}
		r.handleMessage(connectionID, msg)
	}
}

// handleMessage dispatches one inbound frame from connID. Malformed frames
// and unrecognized types are dropped; the connection stays up.
func (r *Router) handleMessage(connID string, raw []byte) {
	var head protocol.Head
	if err := json.Unmarshal(raw, &head); err != nil {
		r.logger.Warn("invalid message frame", "conn_id", connID, "error", err)
		return
	}

	switch head.Type {
	case protocol.TypeHostCreateSession:
		var msg protocol.HostCreateSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed host_create_session", "conn_id", connID, "error", err)
			return
		}
		r.handleHostCreate(connID, msg)

	case protocol.TypeClientJoinSession:
		var msg protocol.ClientJoinSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed client_join_session", "conn_id", connID, "error", err)
			return
		}
		r.handleClientJoin(connID, msg)

	case protocol.TypeWebRTCOffer:
		var msg protocol.WebRTCOffer
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed webrtc_offer", "conn_id", connID, "error", err)
			return
		}
		r.registry.SendTo(msg.TargetID, protocol.WebRTCOffer{
			Type:   protocol.TypeWebRTCOffer,
			Offer:  msg.Offer,
			FromID: connID,
		})

	case protocol.TypeWebRTCAnswer:
		var msg protocol.WebRTCAnswer
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed webrtc_answer", "conn_id", connID, "error", err)
			return
		}
		r.registry.SendTo(msg.TargetID, protocol.WebRTCAnswer{
			Type:   protocol.TypeWebRTCAnswer,
			Answer: msg.Answer,
			FromID: connID,
		})

	case protocol.TypeWebRTCICECandidate:
		var msg protocol.WebRTCICECandidate
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed webrtc_ice_candidate", "conn_id", connID, "error", err)
			return
		}
		r.registry.SendTo(msg.TargetID, protocol.WebRTCICECandidate{
			Type:      protocol.TypeWebRTCICECandidate,
			Candidate: msg.Candidate,
			FromID:    connID,
		})

	case protocol.TypeSyncState:
		var msg protocol.SyncState
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed sync_state", "conn_id", connID, "error", err)
			return
		}
		r.broadcast(msg.SessionID, connID, protocol.SyncState{
			Type:             protocol.TypeSyncState,
			PlaybackPosition: msg.PlaybackPosition,
			IsPlaying:        msg.IsPlaying,
			Timestamp:        msg.Timestamp,
			BPM:              msg.BPM,
			CurrentTrack:     msg.CurrentTrack,
		})

	case protocol.TypeAudioChunk:
		var msg protocol.AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn("malformed audio_chunk", "conn_id", connID, "error", err)
			return
		}
		r.broadcast(msg.SessionID, connID, protocol.AudioChunk{
			Type:      protocol.TypeAudioChunk,
			AudioData: msg.AudioData,
			Timestamp: msg.Timestamp,
			ChunkID:   msg.ChunkID,
		})

	default:
		r.logger.Warn("unknown message type", "type", head.Type, "conn_id", connID)
	}
}

// handleHostCreate inserts (or overwrites) a session keyed by the supplied
// session ID with the sender as host. Last writer wins on duplicate IDs.
func (r *Router) handleHostCreate(connID string, msg protocol.HostCreateSession) {
	r.mu.Lock()
	if prev, ok := r.sessions[msg.SessionID]; ok {
		r.logger.Warn("session id reused, replacing",
			"session_id", msg.SessionID, "prev_host", prev.hostID, "host", connID)
	}
	r.sessions[msg.SessionID] = &session{
		hostID: connID,
		name:   msg.SessionName,
	}
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", msg.SessionID, "host", connID)

	r.registry.SendTo(connID, protocol.SessionCreated{
		Type:      protocol.TypeSessionCreated,
		SessionID: msg.SessionID,
	})
}

// handleClientJoin appends the sender to the session's client list, notifies
// the host, and confirms to the client. Joining an unknown session yields an
// explicit error reply. Repeat joins by the same connection append again.
func (r *Router) handleClientJoin(connID string, msg protocol.ClientJoinSession) {
	r.mu.Lock()
	sess, ok := r.sessions[msg.SessionID]
	var hostID string
	if ok {
		sess.clients = append(sess.clients, connID)
		hostID = sess.hostID
	}
	r.mu.Unlock()

	if !ok {
		r.registry.SendTo(connID, protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Message: "Session not found",
		})
		return
	}

	r.logger.Info("client joined session",
		"session_id", msg.SessionID, "client", connID, "client_name", msg.ClientName)

	r.registry.SendTo(hostID, protocol.ClientJoined{
		Type:       protocol.TypeClientJoined,
		ClientID:   connID,
		ClientName: msg.ClientName,
	})
	r.registry.SendTo(connID, protocol.JoinedSession{
		Type:      protocol.TypeJoinedSession,
		SessionID: msg.SessionID,
	})
}

// broadcast sends payload to every member of the session except the sender,
// compared by connection identifier. Unknown sessions are a silent no-op.
// A failed send to one member never aborts delivery to the rest.
func (r *Router) broadcast(sessionID, senderID string, payload any) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	var targets []string
	if ok {
		if sess.hostID != senderID {
			targets = append(targets, sess.hostID)
		}
		for _, id := range sess.clients {
			if id != senderID {
				targets = append(targets, id)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range targets {
		r.registry.SendTo(id, payload)
	}
}

// disconnect unregisters the connection and deletes every session in which it
// appears as host or client. A host's disconnect tears down the whole session;
// surviving members get no notification, their sends simply stop arriving.
// A stale connection whose identifier was taken over by a newer socket must
// not tear down the replacement's sessions, so session cleanup only runs when
// the unregister actually removed this connection.
func (r *Router) disconnect(c *registry.Conn) {
	if !r.registry.Unregister(c) {
		return
	}

	id := c.ID()
	r.mu.Lock()
	for sid, sess := range r.sessions {
		if sess.hostID == id || slices.Contains(sess.clients, id) {
			delete(r.sessions, sid)
			r.logger.Info("session removed on disconnect", "session_id", sid, "conn_id", id)
		}
	}
	r.mu.Unlock()
}

// Stats reports the number of live sessions and registered connections.
func (r *Router) Stats() (sessions, connections int) {
	r.mu.Lock()
	sessions = len(r.sessions)
	r.mu.Unlock()
	return sessions, r.registry.Len()
}
