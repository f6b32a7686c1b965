package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathIsNotAnError(t *testing.T) {
	f, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned an error: %v", err)
	}
	if f != (File{}) {
		t.Fatalf("Load(\"\") = %#v, want zero value", f)
	}
}

func TestLoadNonexistentFileIsNotAnError(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load of a missing file returned an error: %v", err)
	}
	if f != (File{}) {
		t.Fatalf("Load of a missing file = %#v, want zero value", f)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	contents := "hostname: 0.0.0.0\nport: 6667\nmax_sessions: 500\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Hostname != "0.0.0.0" || f.Port != 6667 || f.MaxSessions != 500 {
		t.Fatalf("unexpected parsed config: %#v", f)
	}
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load of malformed YAML returned no error")
	}
}
