// Package config manages the mutable operational settings of the auto-responder.
//
// Settings live in a single JSON document on disk. The document is read once at
// construction, mutated through setters, and written back in full on every
// save. Unknown fields are ignored; missing fields keep their built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Built-in defaults used when the document is missing, unparseable, or omits a field.
const (
	DefaultFAQCategory         = "general"
	DefaultWelcomeMessage      = "Hello! How can we help you today?"
	DefaultResponseDelayMs     = 2000
	DefaultMaxResponsesPerHour = 5
)

// Config holds the operational settings read by every other component.
type Config struct {
	AutoResponderEnabled bool   `json:"autoResponderEnabled"`
	FAQCategory          string `json:"faqCategory"`
	WelcomeMessage       string `json:"welcomeMessage"`
	BusinessName         string `json:"businessName"`
	ResponseDelayMs      int    `json:"responseDelayMs"`
	MaxResponsesPerHour  int    `json:"maxResponsesPerHour"`
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		AutoResponderEnabled: true,
		FAQCategory:          DefaultFAQCategory,
		WelcomeMessage:       DefaultWelcomeMessage,
		BusinessName:         "",
		ResponseDelayMs:      DefaultResponseDelayMs,
		MaxResponsesPerHour:  DefaultMaxResponsesPerHour,
	}
}

// Store is the singleton configuration holder. It is safe for concurrent use.
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

// NewStore loads the configuration document at path, falling back to built-in
// defaults for anything missing or unparseable. Configuration errors are never
// fatal.
func NewStore(path string) *Store {
	s := &Store{path: path, cfg: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("ConfigStore no document found, using defaults", "path", path)
		} else {
			slog.Warn("ConfigStore failed to read document, using defaults", "error", err, "path", path)
		}
		return s
	}

	// Unmarshal over the defaults so fields absent from disk keep their
	// built-in values.
	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("ConfigStore unparseable document, using defaults", "error", err, "path", path)
		return s
	}
	s.cfg = cfg
	slog.Info("ConfigStore loaded", "path", path, "enabled", cfg.AutoResponderEnabled, "category", cfg.FAQCategory)
	return s
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetAutoResponderEnabled toggles the auto-responder and persists the change.
func (s *Store) SetAutoResponderEnabled(enabled bool) error {
	return s.update(func(c *Config) { c.AutoResponderEnabled = enabled })
}

// SetFAQCategory changes the active FAQ category and persists the change.
func (s *Store) SetFAQCategory(category string) error {
	return s.update(func(c *Config) { c.FAQCategory = category })
}

// SetBusinessName changes the persona/business name and persists the change.
func (s *Store) SetBusinessName(name string) error {
	return s.update(func(c *Config) { c.BusinessName = name })
}

// update applies the mutation and writes the full document back to disk.
func (s *Store) update(mutate func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.cfg)
	return s.saveLocked()
}

// saveLocked writes the document atomically: temp file in the same directory,
// then rename over the target. Callers must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	slog.Debug("ConfigStore saved", "path", s.path)
	return nil
}
