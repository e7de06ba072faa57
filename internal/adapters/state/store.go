package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Device is the persisted identity of one advertised server.
type Device struct {
	UUID      string `json:"uuid"`
	CreatedAt int64  `json:"createdAt"`
}

// Store saves device identities under XDG_STATE_HOME or ~/.local/state.
type Store struct {
	path  string
	mu    sync.Mutex
	newID func() string
}

// NewStore creates a store at path, or at the default location when path
// is empty.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return &Store{path: path, newID: uuid.NewString}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// DeviceUUID returns the UUID stored for friendlyName, allocating and
// persisting one on first use. Renaming the server yields a new identity.
func (s *Store) DeviceUUID(friendlyName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return "", err
	}
	if dev, ok := data[friendlyName]; ok && dev.UUID != "" {
		return dev.UUID, nil
	}
	dev := Device{UUID: s.newID(), CreatedAt: time.Now().Unix()}
	data[friendlyName] = dev
	if err := s.writeAll(data); err != nil {
		return "", err
	}
	return dev.UUID, nil
}

// Forget drops the identity stored for friendlyName.
func (s *Store) Forget(friendlyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return err
	}
	delete(data, friendlyName)
	return s.writeAll(data)
}

func (s *Store) readAll() (map[string]Device, error) {
	data := map[string]Device{}
	file, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, err
	}
	if len(file) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) writeAll(data map[string]Device) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// DefaultPath is $XDG_STATE_HOME/plexdlna/state.json.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "plexdlna", "state.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "plexdlna", "state.json"), nil
}
