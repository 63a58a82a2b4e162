package app

import (
	"io"
	"sync"
)

// syncWriter serializes writes to an output shared by the logger and the
// build summaries of concurrently built components.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
