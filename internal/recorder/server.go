package recorder

import (
	"log"
	"path/filepath"
)

// Server records policyd-side input/output pairs (compressed JSONL).
type Server struct {
	w   *JSONLZstdWriter
	log *log.Logger
}

func OpenServer(dir string, logger *log.Logger) *Server {
	return &Server{
		w:   NewJSONLZstdWriter(filepath.Join(dir, "server"), "server"),
		log: logger,
	}
}

func (s *Server) Input(step uint64, observation map[string]TensorSummary) {
	rec := ServerRecord{Step: step, Timestamp: now(), Type: "input", Observation: observation}
	if err := s.w.Write(rec); err != nil && s.log != nil {
		s.log.Printf("recorder: server input: %v", err)
	}
}

func (s *Server) Output(step uint64, action map[string]TensorSummary, inferenceTime float64) {
	rec := ServerRecord{Step: step, Timestamp: now(), Type: "output", Action: action, InferenceTime: inferenceTime}
	if err := s.w.Write(rec); err != nil && s.log != nil {
		s.log.Printf("recorder: server output: %v", err)
	}
}

func (s *Server) Close() error { return s.w.Close() }
