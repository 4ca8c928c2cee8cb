// Package persona defines the bot-personality boundary: who the assistant is,
// how it greets, and which voice it speaks with.
//
// A Persona is resolved by name at session creation time through a [Store].
// Two stores are provided: [FileStore] reads personas from a YAML file, and
// [PostgresStore] keeps them in PostgreSQL and enriches the system prompt with
// semantically retrieved lore snippets at resolve time.
package persona

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Resolve when no persona with the requested
// name exists. Callers treat it as a configuration error: a session must not
// start with an unresolvable persona.
var ErrNotFound = errors.New("persona: not found")

// Persona describes one assistant personality.
type Persona struct {
	// Name uniquely identifies the persona.
	Name string `yaml:"name"`

	// SystemPrompt seeds the conversation history.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting, if non-empty, is spoken once the client signals ready.
	Greeting string `yaml:"greeting"`

	// Voice is the TTS voice identifier used for this persona.
	Voice string `yaml:"voice"`

	// Language is an optional BCP-47 hint forwarded to the STT engine.
	Language string `yaml:"language"`
}

// Store resolves personas by name.
type Store interface {
	// Resolve returns the persona registered under name, or an error wrapping
	// ErrNotFound when no such persona exists. The returned value is a copy;
	// mutating it does not affect the store.
	Resolve(ctx context.Context, name string) (Persona, error)
}
