package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/starford/margin/internal/storage"
	pkgconfig "github.com/starford/margin/pkg/config"
)

// Store is a Session backed by a YAML file. Setters persist immediately;
// external edits to the file are picked up by Watch.
type Store struct {
	fs     storage.Provider
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	state    State
	onChange []func(State)
}

var _ Session = (*Store)(nil)

// Open loads the settings file at path, creating its directory if needed. A
// missing file yields the default state.
func Open(path string, logger *slog.Logger) (*Store, error) {
	fs, err := storage.NewFS(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	s := &Store{
		fs:     fs,
		name:   filepath.Base(path),
		logger: logger,
		state:  State{ConnectMode: ModeNsec},
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file and notifies subscribers when the state changed.
// A file that no longer decodes is replaced in memory by its last good
// version.
func (s *Store) Reload() error {
	data, err := s.fs.Read(s.name)
	next := State{ConnectMode: ModeNsec}
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("settings: %w", err)
	default:
		if err := pkgconfig.Decode(data, s.name, &next); err != nil {
			prev, berr := s.fs.Backup(s.name)
			if berr != nil {
				return fmt.Errorf("settings: %w", err)
			}
			next = State{ConnectMode: ModeNsec}
			if berr := pkgconfig.Decode(prev, s.name+".bak", &next); berr != nil {
				return fmt.Errorf("settings: %w", err)
			}
			s.logger.Warn("settings: file unreadable, using backup", slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	changed := next != s.state
	s.state = next
	subs := append([]func(State){}, s.onChange...)
	s.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(next)
		}
	}
	return nil
}

// OnChange registers fn to run after every state change.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetPrivateKey stores a secret key given as hex or nsec, switches to nsec
// mode and returns the derived public key.
func (s *Store) SetPrivateKey(input string) (string, error) {
	sk, err := parseSecretKey(input)
	if err != nil {
		return "", err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", fmt.Errorf("settings: derive public key: %w", err)
	}
	err = s.update(func(st *State) {
		st.ConnectMode = ModeNsec
		st.PrivateKeyHex = sk
		st.PublicKeyHex = pk
	})
	return pk, err
}

// SetBunker stores an established remote-signer connection and switches to
// bunker mode.
func (s *Store) SetBunker(bunkerURL, clientSecretHex, remotePubKey string) error {
	return s.update(func(st *State) {
		st.ConnectMode = ModeBunker
		st.BunkerURL = bunkerURL
		st.BunkerSecretHex = clientSecretHex
		st.PublicKeyHex = remotePubKey
	})
}

// SetLinks overrides the viewer bases used for event and profile links.
func (s *Store) SetLinks(eventURL, profileURL string) error {
	return s.update(func(st *State) {
		st.EventURL = eventURL
		st.ProfileURL = profileURL
	})
}

// Logout clears key and remote-signer material.
func (s *Store) Logout() error {
	return s.update(func(st *State) {
		*st = State{
			ConnectMode: ModeNsec,
			EventURL:    st.EventURL,
			ProfileURL:  st.ProfileURL,
		}
	})
}

func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	next := s.state
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: %w", err)
	}
	data, err := pkgconfig.Encode(&next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: %w", err)
	}
	if err := s.fs.Write(s.name, data); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: %w", err)
	}
	s.state = next
	subs := append([]func(State){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return nil
}

func (s *Store) Mode() string           { return s.Snapshot().ConnectMode }
func (s *Store) SecretKey() string      { return s.Snapshot().PrivateKeyHex }
func (s *Store) PublicKey() string      { return s.Snapshot().PublicKeyHex }
func (s *Store) BunkerURL() string      { return s.Snapshot().BunkerURL }
func (s *Store) BunkerSecret() string   { return s.Snapshot().BunkerSecretHex }
func (s *Store) EventURLBase() string   { return s.Snapshot().EventURL }
func (s *Store) ProfileURLBase() string { return s.Snapshot().ProfileURL }

func parseSecretKey(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "nsec1") {
		prefix, value, err := nip19.Decode(input)
		if err != nil {
			return "", fmt.Errorf("settings: decode nsec: %w", err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", fmt.Errorf("settings: not an nsec: %s", prefix)
		}
		return sk, nil
	}
	input = strings.ToLower(input)
	if err := hexKey(input); err != nil || input == "" {
		return "", fmt.Errorf("settings: private key must be nsec or 64 hex characters")
	}
	return input, nil
}
