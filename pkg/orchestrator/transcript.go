package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTranscriptSink stores assistant transcripts as text files named
// response_<conversation>_<response>_{partial,final}.txt under dir.
type FileTranscriptSink struct {
	dir            string
	conversationID string

	mu sync.Mutex
}

// NewFileTranscriptSink creates dir if needed.
func NewFileTranscriptSink(dir, conversationID string) (*FileTranscriptSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileTranscriptSink{dir: dir, conversationID: conversationID}, nil
}

// Path returns the file a transcript for responseID is written to.
func (s *FileTranscriptSink) Path(responseID string, final bool) string {
	suffix := "partial"
	if final {
		suffix = "final"
	}
	name := fmt.Sprintf("response_%s_%s_%s.txt", s.conversationID, responseID, suffix)
	return filepath.Join(s.dir, name)
}

// WriteTranscript overwrites the partial or final file for responseID. A
// final write removes the partial file.
func (s *FileTranscriptSink) WriteTranscript(responseID, text string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.Path(responseID, final), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if !final {
		return nil
	}
	if err := os.Remove(s.Path(responseID, false)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove partial transcript: %w", err)
	}
	return nil
}
