package server

import (
	"encoding/json"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vanshikaxcx/emotibot/pkg/protocol"
)

const (
	wsWriteWait = 10 * time.Second
	wsIdle      = 10 * time.Minute
	wsMaxFrame  = 64 << 10
)

// handleWS runs a chat over one websocket. The session id comes from the
// query string, the first frame that carries one, or is assigned by the
// first reply.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.deps.Metrics.WebSocket(1)
	defer s.deps.Metrics.WebSocket(-1)

	conn.SetReadLimit(wsMaxFrame)
	sessionID := r.URL.Query().Get("session_id")
	log.Info("Websocket connected", "remote", r.RemoteAddr, "session", sessionID)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !protocol.IsClosed(err) {
				log.Debug("Websocket read failed", "err", err)
			}
			return
		}

		in, err := protocol.Parse(data)
		if err != nil {
			if !s.wsWrite(conn, protocol.Error(sessionID, err.Error())) {
				return
			}
			continue
		}

		var out protocol.Frame
		switch in.Type {
		case protocol.TypePing:
			out = protocol.Frame{Type: protocol.TypePong, SessionID: sessionID}
		case protocol.TypeMessage:
			if sessionID == "" {
				sessionID = in.SessionID
			}
			out = s.wsReply(r, sessionID, in.Text)
			if out.SessionID != "" {
				sessionID = out.SessionID
			}
		default:
			out = protocol.Error(sessionID, "unexpected frame type "+in.Type)
		}

		if !s.wsWrite(conn, out) {
			return
		}
	}
}

func (s *Server) wsReply(r *http.Request, sessionID, text string) protocol.Frame {
	reply, err := s.deps.Chat.Reply(r.Context(), sessionID, text)
	if err != nil {
		_, code := classify(err)
		msg := err.Error()
		if code == CodeInternal {
			log.Error("Websocket reply failed", "session", sessionID, "err", err)
			msg = "internal server error"
		}
		return protocol.Error(sessionID, msg)
	}

	analysis, err := json.Marshal(reply.Analysis)
	if err != nil {
		log.Warn("Analysis not encoded", "err", err)
	}
	return protocol.Frame{
		Type:      protocol.TypeReply,
		SessionID: reply.SessionID,
		Response:  reply.Response,
		Analysis:  analysis,
		Keywords:  reply.Keywords,
		Fallback:  reply.Fallback,
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, f protocol.Frame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(f); err != nil {
		log.Debug("Websocket write failed", "err", err)
		return false
	}
	return true
}
