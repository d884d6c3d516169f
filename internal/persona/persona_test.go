package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/hatsuka/internal/config"
)

func writePersona(t *testing.T, dir, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".txt"), []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndPrompt(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "cheerful", "you are cheerful")
	writePersona(t, dir, "grumpy", "you are grumpy")

	s, err := Load(config.PersonaConfig{
		Enabled:          true,
		RandomSelection:  false,
		DefaultPersona:   "grumpy",
		PersonaDirectory: dir,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.Select(); got != "grumpy" {
		t.Errorf("expected default persona, got %q", got)
	}
	if got := s.Prompt("cheerful"); got != "you are cheerful" {
		t.Errorf("prompt = %q", got)
	}
}

func TestUnknownPersonaFallsBack(t *testing.T) {
	s, err := Load(config.PersonaConfig{Enabled: false})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.Prompt("nobody"); got == "" {
		t.Error("fallback prompt must be non-empty")
	}
}

func TestMissingDirectoryIsNotFatal(t *testing.T) {
	s, err := Load(config.PersonaConfig{
		Enabled:          true,
		PersonaDirectory: "/no/such/dir",
		DefaultPersona:   "default",
	})
	if err != nil {
		t.Fatalf("missing dir must not be fatal: %v", err)
	}
	if got := s.Select(); got != "default" {
		t.Errorf("expected configured default, got %q", got)
	}
}

func TestRandomSelectionPicksExisting(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "a", "aa")
	writePersona(t, dir, "b", "bb")

	s, err := Load(config.PersonaConfig{
		Enabled:          true,
		RandomSelection:  true,
		PersonaDirectory: dir,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 10; i++ {
		name := s.Select()
		if name != "a" && name != "b" {
			t.Fatalf("selected unknown persona %q", name)
		}
	}
}
