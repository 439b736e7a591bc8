package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"

	"syfd/model"
)

// peerFile is the JSON shape of one entry in peers.json.
type peerFile struct {
	UUID                     string  `json:"uuid"`
	FirstName                string  `json:"first_name"`
	LastName                 string  `json:"last_name"`
	IconSHA1Hex              string  `json:"icon_sha1_hex,omitempty"`
	ReceptionUseDefaults     bool    `json:"reception_use_defaults"`
	ReceptionAction          int     `json:"reception_action"`
	ReceptionBasePath        string  `json:"reception_base_path"`
	ReceptionAppendSender    bool    `json:"reception_append_sender_folder"`
	ReceptionAppendDate      bool    `json:"reception_append_date_folder"`
	ReceptionOverride        bool    `json:"reception_override"`
	OverrideUseDefaults      bool    `json:"override_use_defaults,omitempty"`
	OverrideAction           int     `json:"override_action,omitempty"`
	OverrideBasePath         string  `json:"override_base_path,omitempty"`
	OverrideAppendSender     bool    `json:"override_append_sender_folder,omitempty"`
	OverrideAppendDate       bool    `json:"override_append_date_folder,omitempty"`
	BoundIPv4                string  `json:"bound_ipv4"`
	FTPort                   uint16  `json:"ft_port"`
	ITPort                   uint16  `json:"it_port"`
}

// LoadPeers reads peers.json, returning an empty registry if the file
// does not yet exist.
func LoadPeers(path string) (map[uuid.UUID]model.PeerRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[uuid.UUID]model.PeerRecord{}, nil
		}
		return nil, fmt.Errorf("read peers file: %w", err)
	}

	var files []peerFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("parse peers file: %w", err)
	}

	peers := make(map[uuid.UUID]model.PeerRecord, len(files))
	for _, f := range files {
		id, err := uuid.Parse(f.UUID)
		if err != nil {
			continue // a corrupt entry is dropped, not fatal to the whole file
		}
		peers[id] = peerFromFile(id, f)
	}
	return peers, nil
}

// SavePeers persists the registry to peers.json via temp-file-then-rename,
// the same atomic-write discipline as config.Save.
func SavePeers(path string, peers map[uuid.UUID]model.PeerRecord) error {
	files := make([]peerFile, 0, len(peers))
	for _, p := range peers {
		files = append(files, peerToFile(p))
	}

	raw, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal peers file: %w", err)
	}
	raw = append(raw, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write peers file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit peers file: %w", err)
	}
	return nil
}

func peerFromFile(id uuid.UUID, f peerFile) model.PeerRecord {
	record := model.PeerRecord{
		UUID:      id,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		ReceptionPolicy: model.ReceptionPolicy{
			UseDefaults:            f.ReceptionUseDefaults,
			Action:                 model.ReceptionAction(f.ReceptionAction),
			BasePath:               f.ReceptionBasePath,
			AppendSenderNameFolder: f.ReceptionAppendSender,
			AppendDateFolder:       f.ReceptionAppendDate,
		},
		OperationalMode: model.Offline,
		BoundIPv4:       f.BoundIPv4,
		FTPort:          f.FTPort,
		ITPort:          f.ITPort,
		Age:             model.AgeUnconfirmed,
	}
	if f.ReceptionOverride {
		override := model.ReceptionPolicy{
			UseDefaults:            f.OverrideUseDefaults,
			Action:                 model.ReceptionAction(f.OverrideAction),
			BasePath:               f.OverrideBasePath,
			AppendSenderNameFolder: f.OverrideAppendSender,
			AppendDateFolder:       f.OverrideAppendDate,
		}
		record.ReceptionPolicyOverride = &override
	}
	return record
}

func peerToFile(p model.PeerRecord) peerFile {
	f := peerFile{
		UUID:                  p.UUID.String(),
		FirstName:             p.FirstName,
		LastName:              p.LastName,
		ReceptionUseDefaults:  p.ReceptionPolicy.UseDefaults,
		ReceptionAction:       int(p.ReceptionPolicy.Action),
		ReceptionBasePath:     p.ReceptionPolicy.BasePath,
		ReceptionAppendSender: p.ReceptionPolicy.AppendSenderNameFolder,
		ReceptionAppendDate:   p.ReceptionPolicy.AppendDateFolder,
		BoundIPv4:             p.BoundIPv4,
		FTPort:                p.FTPort,
		ITPort:                p.ITPort,
	}
	if p.Icon != nil {
		f.IconSHA1Hex = fmt.Sprintf("%x", p.Icon.SHA1)
	}
	if p.ReceptionPolicyOverride != nil {
		f.ReceptionOverride = true
		f.OverrideUseDefaults = p.ReceptionPolicyOverride.UseDefaults
		f.OverrideAction = int(p.ReceptionPolicyOverride.Action)
		f.OverrideBasePath = p.ReceptionPolicyOverride.BasePath
		f.OverrideAppendSender = p.ReceptionPolicyOverride.AppendSenderNameFolder
		f.OverrideAppendDate = p.ReceptionPolicyOverride.AppendDateFolder
	}
	return f
}
