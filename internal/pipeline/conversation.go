package pipeline

import (
	"errors"
	"sync"

	"github.com/MrWong99/voxloom/pkg/provider/llm"
)

// ErrAssistantWithoutUser is returned when an assistant turn would not follow
// a user turn.
var ErrAssistantWithoutUser = errors.New("pipeline: assistant turn must follow a user turn")

// Conversation is the ordered, append-only message history for one session:
// exactly one system message, always first, followed by strictly alternating
// User/Assistant turns. It is the single source of truth for dialogue state.
//
// Writes come exclusively from the session's GenerationStage, which owns the
// conversation; the internal lock only makes concurrent reads (logging,
// tests) safe against that single writer.
type Conversation struct {
	mu       sync.RWMutex
	messages []llm.Message
}

// NewConversation creates a history seeded with the system prompt.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
		},
	}
}

// AppendUser appends a user turn. If the previous turn is already a user
// turn — a dangling message left by a failed generation — the new text is
// folded into it (newline-joined) so the alternation invariant holds.
func (c *Conversation) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.messages[len(c.messages)-1]
	if last.Role == llm.RoleUser {
		c.messages[len(c.messages)-1].Content = last.Content + "\n" + text
		return
	}
	c.messages = append(c.messages, llm.Message{Role: llm.RoleUser, Content: text})
}

// AppendAssistant appends an assistant turn. Returns
// ErrAssistantWithoutUser if the previous turn is not a user turn.
func (c *Conversation) AppendAssistant(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages[len(c.messages)-1].Role != llm.RoleUser {
		return ErrAssistantWithoutUser
	}
	c.messages = append(c.messages, llm.Message{Role: llm.RoleAssistant, Content: text})
	return nil
}

// Messages returns a copy of the full ordered history.
func (c *Conversation) Messages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system message.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// LastAssistant returns the content of the most recent assistant turn, or
// "" if none exists yet.
func (c *Conversation) LastAssistant() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i > 0; i-- {
		if c.messages[i].Role == llm.RoleAssistant {
			return c.messages[i].Content
		}
	}
	return ""
}
