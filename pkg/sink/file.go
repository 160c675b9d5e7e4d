package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
)

// FileSink writes one JSON object per line. Only flushed lines count as
// written: Discard rolls the file back to the end of the last flush.
type FileSink struct {
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder

	// committed is the file size after the last successful Flush.
	committed int64
}

// OpenFile opens path for writing, creating its directory when needed. With
// appendMode the existing content is kept, otherwise the file is truncated.
func OpenFile(path string, appendMode bool) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	committed, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek output: %w", err)
	}

	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	return &FileSink{path: path, file: f, buf: buf, enc: enc, committed: committed}, nil
}

// Path returns the file path.
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) Write(_ context.Context, e page.Entity) error {
	if err := s.enc.Encode(e); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	entitiesWritten.WithLabelValues("file").Inc()
	return nil
}

func (s *FileSink) Flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	end, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek %s: %w", s.path, err)
	}
	s.committed = end
	return nil
}

// Discard drops everything written since the last Flush, including lines the
// buffer already spilled to disk.
func (s *FileSink) Discard() error {
	s.buf.Reset(s.file)
	if err := s.file.Truncate(s.committed); err != nil {
		return fmt.Errorf("truncate %s: %w", s.path, err)
	}
	if _, err := s.file.Seek(s.committed, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	flushErr := s.Flush()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return flushErr
}
