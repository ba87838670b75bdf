// Package settings persists the session state that signing and adaptation
// read: the connect mode, key material or remote-signer descriptor, and link
// preferences.
package settings

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Connect modes.
const (
	ModeNsec         = "nsec"
	ModeBunker       = "bunker"
	ModeNostrConnect = "nostr-connect"
)

// Session is the read-only view components receive.
type Session interface {
	Mode() string
	SecretKey() string
	PublicKey() string
	BunkerURL() string
	BunkerSecret() string
	EventURLBase() string
	ProfileURLBase() string
}

// State is the persisted form of a session.
type State struct {
	ConnectMode     string `yaml:"connect_mode"`
	PrivateKeyHex   string `yaml:"private_key_hex,omitempty"`
	PublicKeyHex    string `yaml:"public_key_hex,omitempty"`
	BunkerURL       string `yaml:"bunker_url,omitempty"`
	BunkerSecretHex string `yaml:"bunker_secret_hex,omitempty"`
	EventURL        string `yaml:"event_url,omitempty"`
	ProfileURL      string `yaml:"profile_url,omitempty"`
}

// Validate validates the state.
func (s *State) Validate() error {
	if s.ConnectMode == "" {
		s.ConnectMode = ModeNsec
	}
	return validation.ValidateStruct(s,
		validation.Field(&s.ConnectMode, validation.Required, validation.In(ModeNsec, ModeBunker, ModeNostrConnect)),
		validation.Field(&s.PrivateKeyHex, validation.By(hexKey)),
		validation.Field(&s.PublicKeyHex, validation.By(hexKey)),
		validation.Field(&s.BunkerSecretHex, validation.By(hexKey)),
		validation.Field(&s.BunkerURL, validation.When(s.ConnectMode == ModeBunker, validation.Required)),
	)
}

func hexKey(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if len(s) != 64 || strings.Trim(strings.ToLower(s), "0123456789abcdef") != "" {
		return validation.NewError("validation_hex_key", "must be 64 hex characters")
	}
	return nil
}

// Static is a fixed Session, for tests and one-shot CLI commands.
type Static struct {
	State State
}

func (s Static) Mode() string           { return s.State.ConnectMode }
func (s Static) SecretKey() string      { return s.State.PrivateKeyHex }
func (s Static) PublicKey() string      { return s.State.PublicKeyHex }
func (s Static) BunkerURL() string      { return s.State.BunkerURL }
func (s Static) BunkerSecret() string   { return s.State.BunkerSecretHex }
func (s Static) EventURLBase() string   { return s.State.EventURL }
func (s Static) ProfileURLBase() string { return s.State.ProfileURL }
