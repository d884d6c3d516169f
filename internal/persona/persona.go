// Package persona loads named system-prompt fragments and selects one per
// invocation.
package persona

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/hatsuka/internal/config"
)

const fallbackPrompt = "你是一個友善、聰明的聊天助手。請用自然、人性化的方式回答用戶的問題。"

// Store holds the loaded personas.
type Store struct {
	config config.PersonaConfig

	mu       sync.RWMutex
	personas map[string]string // name -> prompt text
}

// Load reads every *.txt file in the persona directory. A missing
// directory is not an error; selection falls back to the built-in prompt.
func Load(cfg config.PersonaConfig) (*Store, error) {
	s := &Store{config: cfg, personas: make(map[string]string)}
	if !cfg.Enabled {
		return s, nil
	}

	entries, err := os.ReadDir(cfg.PersonaDirectory)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read persona directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.PersonaDirectory, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read persona %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".txt")
		s.personas[name] = strings.TrimSpace(string(data))
	}
	return s, nil
}

// Select picks the persona name for a new invocation: a uniform random
// choice when random selection is on, else the configured default. When
// the default is not among the loaded personas, the alphabetically first
// loaded name is returned instead.
func (s *Store) Select() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.config.Enabled || len(s.personas) == 0 {
		return s.config.DefaultPersona
	}
	if !s.config.RandomSelection {
		if _, ok := s.personas[s.config.DefaultPersona]; ok {
			return s.config.DefaultPersona
		}
	}
	names := make([]string, 0, len(s.personas))
	for name := range s.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	if !s.config.RandomSelection {
		return names[0]
	}
	return names[rand.Intn(len(names))]
}

// Prompt returns the prompt text for name, falling back to the built-in
// prompt for unknown names.
func (s *Store) Prompt(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if text, ok := s.personas[name]; ok {
		return text
	}
	return fallbackPrompt
}
