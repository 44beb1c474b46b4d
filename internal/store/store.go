// Package store persists per-guild settings across restarts: which text
// channel receives transcripts and, optionally, the control panel message.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/leoscribe/internal/logging"
)

type data struct {
	Channels map[string]string `json:"channels"`
	Panels   map[string]string `json:"panels"`
}

// Store is a JSON-file-backed guild settings store. Every mutation is written
// through to disk with an atomic rename.
type Store struct {
	mu   sync.Mutex
	path string
	data data
}

// Open loads the store at path, creating parent directories as needed. A
// corrupt or unreadable file is logged and replaced on the next write rather
// than failing startup.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		path: path,
		data: data{Channels: make(map[string]string), Panels: make(map[string]string)},
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnw("could not read store, starting empty", "path", path, "err", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		logging.Warnw("store file corrupt, starting empty", "path", path, "err", err)
		s.data = data{Channels: make(map[string]string), Panels: make(map[string]string)}
	}
	if s.data.Channels == nil {
		s.data.Channels = make(map[string]string)
	}
	if s.data.Panels == nil {
		s.data.Panels = make(map[string]string)
	}
	return s, nil
}

// save writes the store through a temp file and rename so a crash mid-write
// never corrupts the previous state. Caller holds the lock.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// Channel returns the transcript channel configured for the guild.
func (s *Store) Channel(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.data.Channels[guildID]
	return ch, ok
}

// Channels returns a copy of every guild to channel mapping.
func (s *Store) Channels() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data.Channels))
	for k, v := range s.data.Channels {
		out[k] = v
	}
	return out
}

// SetChannel records the transcript channel for a guild.
func (s *Store) SetChannel(guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Channels[guildID] = channelID
	return s.save()
}

// Panel returns the guild's control panel message ID, if one was posted.
func (s *Store) Panel(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.Panels[guildID]
	return id, ok
}

// SetPanel records the guild's control panel message ID.
func (s *Store) SetPanel(guildID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Panels[guildID] = messageID
	return s.save()
}

// RemoveGuild drops every record for the guild.
func (s *Store) RemoveGuild(guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Channels, guildID)
	delete(s.data.Panels, guildID)
	return s.save()
}
