package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MARGIN_TEST_NAME", "relay")
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("name: ${MARGIN_TEST_NAME}\ncount: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "relay" || s.Count != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadRunsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	_ = os.WriteFile(path, []byte("count: -1\n"), 0o600)
	var s sample
	if err := Load(path, &s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	s := sample{Name: "default"}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &s)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
	if s.Name != "default" {
		t.Errorf("defaults overwritten: %+v", s)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(&sample{Name: "x", Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	var s sample
	if err := Decode(data, "mem", &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "x" || s.Count != 3 {
		t.Errorf("got %+v", s)
	}
}
