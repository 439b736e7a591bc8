package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"syfd/model"
)

func TestLoadPeersMissingFileReturnsEmptyMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	peers, err := LoadPeers(path)
	if err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(peers))
	}
}

func TestSaveAndLoadPeersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	id := uuid.New()
	peers := map[uuid.UUID]model.PeerRecord{
		id: {
			UUID:      id,
			FirstName: "Ada",
			LastName:  "Lovelace",
			ReceptionPolicy: model.ReceptionPolicy{
				UseDefaults: true,
				Action:      model.Accept,
			},
			BoundIPv4: "192.168.1.20",
			FTPort:    49100,
			ITPort:    49101,
		},
	}

	if err := SavePeers(path, peers); err != nil {
		t.Fatalf("SavePeers: %v", err)
	}

	loaded, err := LoadPeers(path)
	if err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	got, ok := loaded[id]
	if !ok {
		t.Fatalf("expected peer %s to be present", id)
	}
	if got.FirstName != "Ada" || got.LastName != "Lovelace" {
		t.Fatalf("unexpected names: %+v", got)
	}
	if got.FTPort != 49100 || got.ITPort != 49101 {
		t.Fatalf("unexpected ports: %+v", got)
	}
}

func TestLoadPeersSkipsCorruptUUIDEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	raw := `[{"uuid":"not-a-uuid","first_name":"Ghost"}]`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("seed peers.json: %v", err)
	}

	peers, err := LoadPeers(path)
	if err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected corrupt entry to be dropped, got %d entries", len(peers))
	}
}

func TestSavePeersPersistsReceptionOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	id := uuid.New()
	override := model.ReceptionPolicy{Action: model.Reject}
	peers := map[uuid.UUID]model.PeerRecord{
		id: {
			UUID:                    id,
			ReceptionPolicyOverride: &override,
		},
	}
	if err := SavePeers(path, peers); err != nil {
		t.Fatalf("SavePeers: %v", err)
	}

	loaded, err := LoadPeers(path)
	if err != nil {
		t.Fatalf("LoadPeers: %v", err)
	}
	got := loaded[id]
	if got.ReceptionPolicyOverride == nil {
		t.Fatal("expected reception policy override to round trip")
	}
	if got.ReceptionPolicyOverride.Action != model.Reject {
		t.Fatalf("expected override action Reject, got %v", got.ReceptionPolicyOverride.Action)
	}
}
