package settings

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "session.yaml")
	s, err := Open(path, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestOpenMissingFileDefaults(t *testing.T) {
	s, _ := openTemp(t)
	if s.Mode() != ModeNsec {
		t.Errorf("mode = %q, want nsec", s.Mode())
	}
	if s.SecretKey() != "" || s.PublicKey() != "" {
		t.Error("expected empty key material")
	}
}

func TestSetPrivateKeyHexPersists(t *testing.T) {
	s, path := openTemp(t)
	sk := nostr.GeneratePrivateKey()
	wantPK, _ := nostr.GetPublicKey(sk)

	pk, err := s.SetPrivateKey(sk)
	if err != nil {
		t.Fatalf("SetPrivateKey: %v", err)
	}
	if pk != wantPK {
		t.Errorf("pubkey = %q, want %q", pk, wantPK)
	}

	reopened, err := Open(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.SecretKey() != sk || reopened.PublicKey() != wantPK || reopened.Mode() != ModeNsec {
		t.Errorf("reopened state = %+v", reopened.Snapshot())
	}
}

func TestSetPrivateKeyNsec(t *testing.T) {
	s, _ := openTemp(t)
	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetPrivateKey(nsec); err != nil {
		t.Fatalf("SetPrivateKey(nsec): %v", err)
	}
	if s.SecretKey() != sk {
		t.Errorf("secret = %q, want %q", s.SecretKey(), sk)
	}
}

func TestSetPrivateKeyRejectsGarbage(t *testing.T) {
	s, _ := openTemp(t)
	if _, err := s.SetPrivateKey("not-a-key"); err == nil {
		t.Fatal("expected error")
	}
	if s.SecretKey() != "" {
		t.Error("state should be unchanged")
	}
}

func TestSetBunkerAndLogout(t *testing.T) {
	s, _ := openTemp(t)
	remote, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	secret := nostr.GeneratePrivateKey()
	url := "bunker://" + remote + "?relay=wss://relay.example"

	if err := s.SetBunker(url, secret, remote); err != nil {
		t.Fatalf("SetBunker: %v", err)
	}
	if s.Mode() != ModeBunker || s.BunkerURL() != url || s.BunkerSecret() != secret || s.PublicKey() != remote {
		t.Errorf("state = %+v", s.Snapshot())
	}

	_ = s.SetLinks("https://viewer.example", "")
	if err := s.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	st := s.Snapshot()
	if st.BunkerURL != "" || st.BunkerSecretHex != "" || st.PublicKeyHex != "" || st.ConnectMode != ModeNsec {
		t.Errorf("logout left state %+v", st)
	}
	if st.EventURL != "https://viewer.example" {
		t.Error("logout should keep link preferences")
	}
}

func TestStateValidate(t *testing.T) {
	st := State{ConnectMode: "magic"}
	if err := st.Validate(); err == nil {
		t.Error("invalid mode should fail")
	}
	st = State{ConnectMode: ModeBunker}
	if err := st.Validate(); err == nil {
		t.Error("bunker mode without url should fail")
	}
	st = State{PrivateKeyHex: strings.Repeat("z", 64)}
	if err := st.Validate(); err == nil {
		t.Error("non-hex key should fail")
	}
	st = State{}
	if err := st.Validate(); err != nil || st.ConnectMode != ModeNsec {
		t.Errorf("empty state should default to nsec: %v", err)
	}
}

func TestOnChangeFires(t *testing.T) {
	s, _ := openTemp(t)
	var calls atomic.Int32
	s.OnChange(func(State) { calls.Add(1) })
	_, _ = s.SetPrivateKey(nostr.GeneratePrivateKey())
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	s, path := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Watch(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	sk := nostr.GeneratePrivateKey()
	if err := os.WriteFile(path, []byte("connect_mode: nsec\nprivate_key_hex: "+sk+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && s.SecretKey() != sk {
		time.Sleep(20 * time.Millisecond)
	}
	if s.SecretKey() != sk {
		t.Error("external edit was not reloaded")
	}

	cancel()
	<-done
}

func TestReloadFallsBackToBackup(t *testing.T) {
	s, path := openTemp(t)
	sk := nostr.GeneratePrivateKey()
	if _, err := s.SetPrivateKey(sk); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLinks("https://njump.me/", ""); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("connect_mode: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s.SecretKey() != sk {
		t.Error("expected key material from the backup")
	}
	if s.EventURLBase() != "" {
		t.Errorf("backup predates SetLinks, got event base %q", s.EventURLBase())
	}
}

func TestReloadCorruptWithoutBackup(t *testing.T) {
	s, path := openTemp(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("connect_mode: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected decode error")
	}
}
