// Package protocol defines the JSON frames exchanged on the live chat
// websocket and a small client for them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeMessage = "message"
	TypeReply   = "reply"
	TypeError   = "error"
	TypePing    = "ping"
	TypePong    = "pong"
)

type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	// Text carries the user's message.
	Text     string          `json:"text,omitempty"`
	Response string          `json:"response,omitempty"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Keywords []string        `json:"keywords,omitempty"`
	Fallback bool            `json:"fallback,omitempty"`
	// Message describes an error frame.
	Message string `json:"message,omitempty"`
}

// Parse decodes and checks one incoming frame.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("bad frame: %w", err)
	}

	switch f.Type {
	case TypeMessage:
		if strings.TrimSpace(f.Text) == "" {
			return Frame{}, errors.New("message frame without text")
		}
	case TypeReply, TypeError, TypePing, TypePong:
	case "":
		return Frame{}, errors.New("frame without type")
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return f, nil
}

func Message(sessionID, text string) Frame {
	return Frame{Type: TypeMessage, SessionID: sessionID, Text: text}
}

func Error(sessionID, msg string) Frame {
	return Frame{Type: TypeError, SessionID: sessionID, Message: msg}
}
