package persona

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Descriptor is the normalized persona shape consumed by the assembler.
// Stored payloads vary (some write "prompt", some "system_prompt"); the
// store normalizes both into this one field.
type Descriptor struct {
	Prompt string
}

// Store reads persona payloads from a single JSON file keyed by
// conversation, with a "default" fallback entry:
//
//	{
//	  "default": {"prompt": "You are a helpful assistant."},
//	  "telegram:123": {"system_prompt": "You are terse."}
//	}
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by the JSON file at path. A missing file
// means no personas are configured.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPersona returns the persona serving the given conversation: the
// conversation-specific entry if present, otherwise the "default" entry,
// otherwise nil.
func (s *Store) DefaultPersona(ctx context.Context, conversationKey string) (*Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("persona file %s is not valid JSON", s.path)
	}

	if d := extract(gjson.GetBytes(data, escapeKey(conversationKey))); d != nil {
		return d, nil
	}
	return extract(gjson.GetBytes(data, "default")), nil
}

// SetDefault writes the "default" persona prompt, creating the file if
// needed. Existing conversation-specific entries are preserved.
func (s *Store) SetDefault(prompt string) error {
	return s.set("default", prompt)
}

// SetForConversation writes a conversation-specific persona prompt.
func (s *Store) SetForConversation(conversationKey, prompt string) error {
	return s.set(escapeKey(conversationKey), prompt)
}

func (s *Store) set(key, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read persona file: %w", err)
		}
		data = []byte("{}")
	}

	updated, err := sjson.SetBytes(data, key+".prompt", prompt)
	if err != nil {
		return fmt.Errorf("failed to update persona payload: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create persona dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, updated, 0o644); err != nil {
		return fmt.Errorf("failed to write persona file: %w", err)
	}
	return nil
}

// extract normalizes one persona payload. Both "prompt" and
// "system_prompt" field names are accepted, preferring "prompt"; a bare
// string payload is taken as the prompt itself.
func extract(payload gjson.Result) *Descriptor {
	if !payload.Exists() {
		return nil
	}
	if payload.Type == gjson.String {
		if payload.String() == "" {
			return nil
		}
		return &Descriptor{Prompt: payload.String()}
	}

	prompt := payload.Get("prompt").String()
	if prompt == "" {
		prompt = payload.Get("system_prompt").String()
	}
	if prompt == "" {
		return nil
	}
	return &Descriptor{Prompt: prompt}
}

// escapeKey escapes the gjson path separators inside conversation keys
// ("telegram:123" is a single map key, not a path).
func escapeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
