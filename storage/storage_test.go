package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/barnettlynn/atvpair/credentials"
)

func sampleHAPCredentials() credentials.Credentials {
	field := func(b byte) []byte {
		out := make([]byte, 32)
		for i := range out {
			out[i] = b
		}
		return out
	}
	return credentials.Credentials{
		LTPK:     field(0x11),
		LTSK:     field(0x22),
		AtvId:    field(0x33),
		ClientId: field(0x44),
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, ok := s.Device("anything"); ok {
		t.Fatal("Device() found an entry in a fresh store")
	}
}

func TestSetCredentialsAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	creds := sampleHAPCredentials()
	s.SetCredentials("device-1", MRP, creds)

	changed, err := s.Save()
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !changed {
		t.Fatal("Save() reported no change on first write")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen Open() error: %v", err)
	}
	got, ok, err := reopened.Credentials("device-1", MRP)
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if !ok {
		t.Fatal("Credentials() not found after reload")
	}
	if got.String() != creds.String() {
		t.Fatalf("Credentials() = %v, want %v", got, creds)
	}
}

func TestSaveIsNoOpWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.SetCredentials("device-1", Companion, credentials.NewTransient())

	if changed, err := s.Save(); err != nil || !changed {
		t.Fatalf("first Save() changed=%v err=%v", changed, err)
	}
	if changed, err := s.Save(); err != nil || changed {
		t.Fatalf("second Save() changed=%v err=%v, want changed=false", changed, err)
	}
}

func TestCredentialsMissingProtocolNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.SetCredentials("device-1", MRP, credentials.NewTransient())

	_, ok, err := s.Credentials("device-1", AirPlay)
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if ok {
		t.Fatal("Credentials() found an AirPlay entry that was never set")
	}
}

func TestOpenRejectsCorruptCredentialField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"version":1,"devices":[{"identifier":"device-1","protocols":{"mrp":{"credentials":"zz"}}}]}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	_, _, err = s.Credentials("device-1", MRP)
	if err == nil {
		t.Fatal("expected Credentials() to surface the malformed hex field")
	}
}
