// Package storage is a reference Settings collaborator: a JSON
// document of per-device pairing credentials, keyed by device
// identifier and protocol, with change detection so an unmodified
// document is never rewritten. The core pairing state machines never
// import this package directly — it exists so cmd/pairctl has
// somewhere to persist what it pairs.
package storage

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/barnettlynn/atvpair/credentials"
)

// Protocol names one of the five carriers a device's credentials may
// be recorded under.
type Protocol string

const (
	MRP       Protocol = "mrp"
	Companion Protocol = "companion"
	AirPlay   Protocol = "airplay"
	RAOP      Protocol = "raop"
	DMAP      Protocol = "dmap"
)

// protocolEntry is one protocol's credentials in the §4.7 portable
// string form.
type protocolEntry struct {
	Credentials string `json:"credentials"`
}

// Device is one paired accessory's record.
type Device struct {
	Identifier string                     `json:"identifier"`
	Protocols  map[Protocol]protocolEntry `json:"protocols"`
}

// document is the on-disk shape: {version:1, devices:[...]}.
type document struct {
	Version int      `json:"version"`
	Devices []Device `json:"devices"`
}

// Store loads, mutates and persists the document at a fixed path.
// Callers pairing devices concurrently must serialize their own
// access; Store does no internal locking.
type Store struct {
	path     string
	doc      document
	lastHash [sha256.Size]byte
}

// Open reads path if it exists, or starts a fresh empty document
// (version 1) if it doesn't.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: document{Version: 1}}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.lastHash = hashOf(s.doc)
			return s, nil
		}
		return nil, fmt.Errorf("read settings store: %w", err)
	}
	if err := json.Unmarshal(content, &s.doc); err != nil {
		return nil, fmt.Errorf("parse settings store: %w", err)
	}
	if s.doc.Version != 1 {
		return nil, fmt.Errorf("unsupported settings store version %d", s.doc.Version)
	}
	s.lastHash = hashOf(s.doc)
	return s, nil
}

// Device returns the record for identifier, if one exists.
func (s *Store) Device(identifier string) (Device, bool) {
	for _, d := range s.doc.Devices {
		if d.Identifier == identifier {
			return d, true
		}
	}
	return Device{}, false
}

// Credentials returns the parsed credentials for identifier/protocol,
// or false if the device or that protocol's entry does not exist.
func (s *Store) Credentials(identifier string, protocol Protocol) (credentials.Credentials, bool, error) {
	device, ok := s.Device(identifier)
	if !ok {
		return credentials.Credentials{}, false, nil
	}
	entry, ok := device.Protocols[protocol]
	if !ok {
		return credentials.Credentials{}, false, nil
	}
	creds, err := credentials.Parse(entry.Credentials)
	if err != nil {
		return credentials.Credentials{}, false, err
	}
	return creds, true, nil
}

// SetCredentials records creds for identifier/protocol, creating the
// device record if it doesn't already exist.
func (s *Store) SetCredentials(identifier string, protocol Protocol, creds credentials.Credentials) {
	for i := range s.doc.Devices {
		if s.doc.Devices[i].Identifier == identifier {
			s.setEntry(&s.doc.Devices[i], protocol, creds)
			return
		}
	}
	device := Device{Identifier: identifier, Protocols: map[Protocol]protocolEntry{}}
	s.setEntry(&device, protocol, creds)
	s.doc.Devices = append(s.doc.Devices, device)
}

func (s *Store) setEntry(device *Device, protocol Protocol, creds credentials.Credentials) {
	if device.Protocols == nil {
		device.Protocols = map[Protocol]protocolEntry{}
	}
	device.Protocols[protocol] = protocolEntry{Credentials: creds.String()}
}

// Save writes the document to disk if it has changed since Open (or
// the last Save), reported via changed. An unmodified document is
// never rewritten.
func (s *Store) Save() (changed bool, err error) {
	encoded, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal settings store: %w", err)
	}
	hash := sha256.Sum256(encoded)
	if hash == s.lastHash {
		return false, nil
	}
	if err := os.WriteFile(s.path, encoded, 0o600); err != nil {
		return false, fmt.Errorf("write settings store: %w", err)
	}
	s.lastHash = hash
	return true, nil
}

func hashOf(doc document) [sha256.Size]byte {
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(encoded)
}
