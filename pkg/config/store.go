package config

import "sync/atomic"

// Store holds the live configuration. Readers always observe a complete
// *Config; Replace swaps the pointer atomically.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore seeds a Store. A nil cfg is replaced with Default().
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the live configuration. Callers must treat it as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Replace installs cfg as the live configuration and returns the previous one.
func (s *Store) Replace(cfg *Config) *Config {
	if cfg == nil {
		return s.current.Load()
	}
	return s.current.Swap(cfg)
}
