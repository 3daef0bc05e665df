package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
)

// DefaultFile holds the user background next to config.json.
const DefaultFile = "memory.txt"

// Store is the persistent user background ("memory").
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	if path == "" {
		path = DefaultFile
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the stored background, or "" when the file is missing or
// unreadable.
func (s *Store) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", s.path).Msg("cannot read memory file")
		}
		return ""
	}
	return string(b)
}

func (s *Store) Save(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	return nil
}

// Compose embeds memory ahead of prompt in the section format that
// ai.SplitBackground understands. Blank memory yields the bare prompt.
func Compose(memory, prompt string) string {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return prompt
	}
	return ai.BackgroundOpen + "\n" + memory + "\n" + ai.BackgroundClose + "\n" + ai.RequestSep + "\n" + prompt
}

// Compose loads the current memory and composes it with prompt.
func (s *Store) Compose(prompt string) string { return Compose(s.Load(), prompt) }
