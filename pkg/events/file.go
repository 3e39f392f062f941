package events

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/util"
)

// FileSink appends one JSON line per envelope to a size-rotated file.
type FileSink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	log *zap.Logger
}

func NewFileSink(path string, log *zap.Logger) *FileSink {
	return &FileSink{w: util.NewRotatingWriter(path, util.DefaultLogRotation), log: log}
}

func (s *FileSink) Publish(env Envelope) {
	line, err := json.Marshal(env)
	if err != nil {
		s.log.Error("event_log_encode_failed", zap.Uint64("seq", env.Seq), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		s.log.Error("event_log_write_failed", zap.Uint64("seq", env.Seq), zap.Error(err))
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
