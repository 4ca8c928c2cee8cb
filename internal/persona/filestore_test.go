package persona_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxloom/internal/persona"
)

const validPersonas = `
personas:
  - name: archivist
    system_prompt: You are the keeper of the great archive.
    greeting: Welcome back to the archive.
    voice: alloy
    language: en
  - name: navigator
    system_prompt: You guide ships through the northern straits.
`

func TestFileStore_ResolvesByName(t *testing.T) {
	t.Parallel()

	s, err := persona.NewFileStoreFromReader(strings.NewReader(validPersonas))
	if err != nil {
		t.Fatalf("NewFileStoreFromReader: %v", err)
	}

	p, err := s.Resolve(context.Background(), "archivist")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.SystemPrompt != "You are the keeper of the great archive." {
		t.Errorf("SystemPrompt: got %q", p.SystemPrompt)
	}
	if p.Greeting != "Welcome back to the archive." || p.Voice != "alloy" || p.Language != "en" {
		t.Errorf("persona fields: %+v", p)
	}

	// Optional fields stay empty.
	nav, err := s.Resolve(context.Background(), "navigator")
	if err != nil {
		t.Fatalf("Resolve navigator: %v", err)
	}
	if nav.Greeting != "" || nav.Voice != "" {
		t.Errorf("navigator optional fields: %+v", nav)
	}
}

func TestFileStore_UnknownNameIsNotFound(t *testing.T) {
	t.Parallel()

	s, err := persona.NewFileStoreFromReader(strings.NewReader(validPersonas))
	if err != nil {
		t.Fatalf("NewFileStoreFromReader: %v", err)
	}
	if _, err := s.Resolve(context.Background(), "ghost"); !errors.Is(err, persona.ErrNotFound) {
		t.Fatalf("Resolve unknown: want ErrNotFound, got %v", err)
	}
}

func TestFileStore_RejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "personas:\n  - system_prompt: hello\n"},
		{"missing system prompt", "personas:\n  - name: empty-head\n"},
		{"duplicate name", "personas:\n  - name: twin\n    system_prompt: a\n  - name: twin\n    system_prompt: b\n"},
		{"unknown field", "personas:\n  - name: x\n    system_prompt: a\n    volume: 11\n"},
		{"no personas at all", "personas: []\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := persona.NewFileStoreFromReader(strings.NewReader(tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
