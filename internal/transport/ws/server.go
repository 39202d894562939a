// Package ws carries the bridge protocol over a websocket: one JSON INFER
// request in, one ACTIONS (or ERROR) response out, strictly in lockstep.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"policylink.ai/internal/protocol"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

// Handler runs one decoded inference request.
type Handler func(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error)

type Server struct {
	handle Handler
	log    *log.Logger

	// Inference is serialized across all connections; a request that
	// arrives while another is in flight is answered with E_BUSY instead
	// of queueing behind an unbounded backlog.
	infer sync.Mutex

	upgrader websocket.Upgrader
}

func NewServer(h Handler, logger *log.Logger) *Server {
	return &Server{
		handle: h,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := r.Context()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			req, err := protocol.DecodeInferRequest(msg)
			if err != nil {
				if werr := writeError(conn, err); werr != nil {
					return
				}
				continue
			}

			resp, err := s.answer(ctx, req)
			if err != nil {
				s.log.Printf("step %d: %v", req.Step, err)
				if werr := writeError(conn, err); werr != nil {
					return
				}
				continue
			}
			if err := writeJSON(conn, resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) answer(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
	if !s.infer.TryLock() {
		return protocol.InferResponse{}, busyError{}
	}
	defer s.infer.Unlock()
	return s.handle(ctx, req)
}

type busyError struct{}

func (busyError) Error() string { return protocol.ErrBusy + ": inference already in flight" }

// codeFromErr recovers the wire code from an error whose message starts
// with one, falling back to E_INTERNAL.
func codeFromErr(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, ':'); i > 0 && protocol.IsKnownCode(msg[:i]) {
		return msg[:i]
	}
	return protocol.ErrInternal
}

func writeError(conn *websocket.Conn, err error) error {
	return writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            codeFromErr(err),
		Message:         err.Error(),
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
