// Package ipc is the local control channel of the daemon: one JSON request
// and one JSON reply per unix socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocket = "/tmp/emotibot.sock"

const readTimeout = 5 * time.Second

type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type ControlReply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler serves one command. The returned value is encoded as the reply data.
type Handler func(ctx context.Context, msg ControlMessage) (any, error)

type Server struct {
	path    string
	ln      net.Listener
	handler Handler

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the socket, replacing a stale one left by a previous run.
func Listen(path string, handler Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocket
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln, handler: handler}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is cancelled or Close is called, then
// waits for in-flight commands.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	log.Info("Control socket listening", "path", s.path)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
		os.Remove(s.path)
	})
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(ControlReply{Error: "bad request: " + err.Error()})
		return
	}
	log.Debug("Control command", "cmd", msg.Cmd, "args", msg.Args)

	reply := ControlReply{OK: true}
	data, err := s.handler(ctx, msg)
	if err != nil {
		reply = ControlReply{Error: err.Error()}
	} else if data != nil {
		if reply.Data, err = json.Marshal(data); err != nil {
			reply = ControlReply{Error: fmt.Sprintf("encode reply: %v", err)}
		}
	}

	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Control reply not sent", "err", err)
	}
}

// SendCommand sends one command and waits for its reply. A reply with OK
// unset is returned together with an error carrying its message.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	if path == "" {
		path = DefaultSocket
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		if ctx.Err() != nil {
			return ControlReply{}, ctx.Err()
		}
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
