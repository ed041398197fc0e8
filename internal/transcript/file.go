package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/roundtable-ai/roundtable/internal/chat"
)

// FileSink appends messages to a JSON-lines file. It is the default
// single-node backend when no database is configured.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening transcript file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Append(_ context.Context, msg chat.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding transcript line: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("writing transcript line: %w", err)
	}
	return nil
}

// List reads the whole file back. Offset and limit follow the repository
// contract; a non-positive limit means no bound.
func (s *FileSink) List(_ context.Context, limit, offset int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening transcript file: %w", err)
	}
	defer f.Close()

	var out []chat.Message
	seen := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var m chat.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("decoding transcript line: %w", err)
		}
		seen++
		if seen <= offset {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript file: %w", err)
	}
	return out, nil
}

func (s *FileSink) Count(ctx context.Context) (int64, error) {
	msgs, err := s.List(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
