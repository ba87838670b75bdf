package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/settings"
	"github.com/starford/margin/internal/signer"
)

// KeyPair is a freshly generated identity in both encodings.
type KeyPair struct {
	SecretHex string
	PublicHex string
	Nsec      string
	Npub      string
}

// GenerateKey creates a new secret key.
func GenerateKey() (KeyPair, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		return KeyPair{}, fmt.Errorf("encode nsec: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return KeyPair{}, fmt.Errorf("encode npub: %w", err)
	}
	return KeyPair{SecretHex: sk, PublicHex: pk, Nsec: nsec, Npub: npub}, nil
}

func openSession(cfg *Config) (*settings.Store, *slog.Logger, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	store, err := settings.Open(cfg.Settings.Path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open settings: %w", err)
	}
	return store, logger, nil
}

// LoginKey stores a hex or nsec secret key and returns the public key.
func LoginKey(cfg *Config, secret string) (string, error) {
	store, _, err := openSession(cfg)
	if err != nil {
		return "", err
	}
	return store.SetPrivateKey(secret)
}

// LoginBunker connects to a remote signer with a new client key and stores
// the connection once the bunker answers with its public key.
func LoginBunker(ctx context.Context, cfg *Config, bunkerURL string) (string, error) {
	bp, err := signer.ParseBunkerURL(bunkerURL)
	if err != nil {
		return "", err
	}
	store, logger, err := openSession(cfg)
	if err != nil {
		return "", err
	}
	logger.Info("session: connecting to bunker",
		slog.String("remote", bp.PublicKey), slog.Any("relays", bp.Relays))

	pool := relay.NewPool(ctx, relay.WithLogger(logger))
	defer pool.Close()

	clientSecret := nostr.GeneratePrivateKey()
	remote := signer.New(store,
		signer.WithDialer(signer.DialBunker(pool.SimplePool())),
		signer.WithLogger(logger),
	).Remote()
	pk, err := remote.Connect(ctx, bunkerURL, clientSecret)
	if err != nil {
		return "", err
	}
	if err := store.SetBunker(bunkerURL, clientSecret, pk); err != nil {
		return "", fmt.Errorf("save bunker session: %w", err)
	}
	return pk, nil
}

// Logout clears stored key material.
func Logout(cfg *Config) error {
	store, _, err := openSession(cfg)
	if err != nil {
		return err
	}
	return store.Logout()
}
