package config

import (
	"os"
	"path/filepath"
	"testing"

	"syfd/model"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		ConfPath: filepath.Join(dir, "conf"),
		DataPath: filepath.Join(dir, "data"),
	}
}

func TestLoadOrCreateFirstRunWritesDefaults(t *testing.T) {
	paths := testPaths(t)

	identity, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if identity.UUID.String() == "" {
		t.Fatal("expected a generated UUID")
	}
	if identity.ReceptionPolicy.Action != model.Ask {
		t.Fatalf("expected default reception action Ask, got %v", identity.ReceptionPolicy.Action)
	}
	if _, err := os.Stat(paths.IdentityPath()); err != nil {
		t.Fatalf("expected me.json to be written: %v", err)
	}
}

func TestLoadOrCreateIsStableAcrossReloads(t *testing.T) {
	paths := testPaths(t)

	first, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate first: %v", err)
	}
	second, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate second: %v", err)
	}
	if first.UUID != second.UUID {
		t.Fatalf("uuid changed across reloads: %s != %s", first.UUID, second.UUID)
	}
}

func TestLoadOrCreateRepairsCorruptUUID(t *testing.T) {
	paths := testPaths(t)
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	raw := `{"uuid":"not-a-uuid","first_name":"Ada","last_name":"L"}`
	if err := os.WriteFile(paths.IdentityPath(), []byte(raw), 0o600); err != nil {
		t.Fatalf("seed me.json: %v", err)
	}

	identity, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if identity.UUID.String() == "" {
		t.Fatal("expected a regenerated UUID")
	}
	if identity.FirstName != "Ada" || identity.LastName != "L" {
		t.Fatalf("names should survive repair, got %q %q", identity.FirstName, identity.LastName)
	}
}

func TestFromFileEmptyNamesGetNoNameSentinel(t *testing.T) {
	paths := testPaths(t)
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	id := "5c9a6f7e-2b64-4f1a-8a4e-8f2b1b6f0d2a"
	raw := `{"uuid":"` + id + `","first_name":"","last_name":""}`
	if err := os.WriteFile(paths.IdentityPath(), []byte(raw), 0o600); err != nil {
		t.Fatalf("seed me.json: %v", err)
	}

	identity, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if identity.FirstName != model.NoNameSentinel {
		t.Fatalf("expected NO NAME sentinel, got %q", identity.FirstName)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	paths := testPaths(t)
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	want := defaultIdentity()
	want.FirstName = "Grace"
	want.LastName = "Hopper"
	want.FTPort = 49100
	want.ITPort = 49101

	if err := Save(paths, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadOrCreate(paths)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if got.UUID != want.UUID || got.FirstName != want.FirstName || got.LastName != want.LastName {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.FTPort != want.FTPort || got.ITPort != want.ITPort {
		t.Fatalf("ports did not round trip: got ft=%d it=%d", got.FTPort, got.ITPort)
	}
}

func TestResolvePathsHonorsEnvOverrides(t *testing.T) {
	confDir := t.TempDir()
	dataDir := t.TempDir()
	t.Setenv("SYF_CONF_DIR", confDir)
	t.Setenv("SYF_DATA_DIR", dataDir)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if paths.ConfPath != confDir {
		t.Fatalf("conf path override ignored: got %q want %q", paths.ConfPath, confDir)
	}
	if paths.DataPath != dataDir {
		t.Fatalf("data path override ignored: got %q want %q", paths.DataPath, dataDir)
	}
}
