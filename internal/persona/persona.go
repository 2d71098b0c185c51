package persona

import (
	"context"
	"fmt"

	"github.com/keshon/datastore"
)

// Persona holds the stable voice of an entity: identity text plus a few
// fixed traits the generator should respect. Never mutated by the LLM path.
type Persona struct {
	Name        string  `json:"name"`
	Identity    string  `json:"identity"`
	SpeechStyle string  `json:"speech_style"`
	Warmth      float64 `json:"warmth"` // 0..1
}

// DefaultPersona is used when an entity has no stored persona.
var DefaultPersona = Persona{
	Name:        "Companion",
	Identity:    "You are a warm, attentive companion who reaches out when it genuinely matters, never out of obligation.",
	SpeechStyle: "casual_sincere",
	Warmth:      0.7,
}

// Store keeps personas in a JSON key/value file.
type Store struct {
	ds *datastore.DataStore
}

// Open opens (or creates) the persona store at filePath.
func Open(filePath string) (*Store, error) {
	ds, err := datastore.New(context.Background(), filePath)
	if err != nil {
		return nil, err
	}
	return &Store{ds: ds}, nil
}

// Close flushes and closes the backing store.
func (s *Store) Close() error {
	return s.ds.Close()
}

// Get returns the persona for key, or DefaultPersona when missing or
// malformed. Empty key maps straight to the default.
func (s *Store) Get(key string) Persona {
	if key == "" {
		return DefaultPersona
	}
	var p Persona
	ok, err := s.ds.Get(key, &p)
	if !ok || err != nil || p.Identity == "" {
		return DefaultPersona
	}
	return p
}

// Put stores a persona under key and flushes to disk.
func (s *Store) Put(key string, p Persona) error {
	if key == "" {
		return fmt.Errorf("persona key cannot be empty")
	}
	if err := s.ds.Set(key, p); err != nil {
		return err
	}
	return s.ds.Flush()
}
