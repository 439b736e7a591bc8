// Package config resolves the on-disk layout under conf_path/data_path
// and loads/creates the local UserIdentity (me.json), grounded on the
// teacher's config.LoadOrCreate shape (env override, directory
// bootstrap, default fill-in, save-if-changed).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"syfd/model"
)

// AppDirectoryName is the per-user application data directory name.
const AppDirectoryName = "shareyourfiles"

const identityFileName = "me.json"

// identityFile is the JSON shape persisted at <conf_path>/me.json.
type identityFile struct {
	UUID                  string `json:"uuid"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	IconHashHex           string `json:"icon_hash_hex,omitempty"`
	ReceptionUseDefaults  bool   `json:"reception_use_defaults"`
	ReceptionAction       int    `json:"reception_action"`
	ReceptionBasePath     string `json:"reception_base_path"`
	ReceptionAppendSender bool   `json:"reception_append_sender_folder"`
	ReceptionAppendDate   bool   `json:"reception_append_date_folder"`
	FTPort                uint16 `json:"ft_port"`
	ITPort                uint16 `json:"it_port"`
}

// Paths is the resolved on-disk layout for one daemon instance.
type Paths struct {
	ConfPath string // holds me.json, peers.json, icons/, the lock file
	DataPath string // destination root for received files
}

// IconsDir is the icon cache directory under ConfPath.
func (p Paths) IconsDir() string {
	return filepath.Join(p.ConfPath, "icons")
}

// LockFilePath is the single-instance advisory lock file path.
func (p Paths) LockFilePath(target string) string {
	return filepath.Join(p.ConfPath, target+".lock")
}

// IdentityPath is the me.json path.
func (p Paths) IdentityPath() string {
	return filepath.Join(p.ConfPath, identityFileName)
}

// PeersPath is the peers.json path.
func (p Paths) PeersPath() string {
	return filepath.Join(p.ConfPath, "peers.json")
}

// ResolvePaths returns the OS-aware conf/data directories. SYF_CONF_DIR
// and SYF_DATA_DIR override the defaults, mirroring the teacher's
// P2P_CHAT_DATA_DIR escape hatch.
func ResolvePaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve user home: %w", err)
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
	}

	confPath := filepath.Join(base, AppDirectoryName)
	if override := os.Getenv("SYF_CONF_DIR"); override != "" {
		confPath = override
	}

	dataPath := filepath.Join(home, "ShareYourFiles")
	if override := os.Getenv("SYF_DATA_DIR"); override != "" {
		dataPath = override
	}

	return Paths{ConfPath: confPath, DataPath: dataPath}, nil
}

// EnsureDirectories creates conf_path, conf_path/icons and data_path.
func (p Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfPath, p.IconsDir(), p.DataPath} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LoadOrCreate loads me.json, creating a default identity from the OS
// username on first run. Empty names are replaced by the NO NAME
// sentinel per spec.md §3.
func LoadOrCreate(paths Paths) (model.UserIdentity, error) {
	if err := paths.EnsureDirectories(); err != nil {
		return model.UserIdentity{}, err
	}

	path := paths.IdentityPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return model.UserIdentity{}, fmt.Errorf("read identity: %w", err)
		}
		identity := defaultIdentity()
		if err := Save(paths, identity); err != nil {
			return model.UserIdentity{}, err
		}
		return identity, nil
	}

	var file identityFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return model.UserIdentity{}, fmt.Errorf("parse identity: %w", err)
	}

	identity, changed := fromFile(file)
	if changed {
		if err := Save(paths, identity); err != nil {
			return model.UserIdentity{}, err
		}
	}
	return identity, nil
}

// Save persists the identity to me.json via a temp-file-then-rename,
// the same atomic-write discipline used for peer and icon persistence.
func Save(paths Paths, identity model.UserIdentity) error {
	file := toFile(identity)
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	raw = append(raw, '\n')

	path := paths.IdentityPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit identity: %w", err)
	}
	return nil
}

func defaultIdentity() model.UserIdentity {
	first, last := usernameParts()
	return model.UserIdentity{
		UUID:      uuid.New(),
		FirstName: first,
		LastName:  last,
		ReceptionPolicy: model.ReceptionPolicy{
			UseDefaults: true,
			Action:      model.Ask,
		},
		OperationalMode: model.Online,
	}
}

func usernameParts() (first, last string) {
	name := os.Getenv("USER")
	if name == "" {
		name = os.Getenv("USERNAME")
	}
	if name == "" {
		return model.NoNameSentinel, ""
	}
	return model.ClampName(name), ""
}

func fromFile(f identityFile) (model.UserIdentity, bool) {
	changed := false

	id, err := uuid.Parse(f.UUID)
	if err != nil {
		id = uuid.New()
		changed = true
	}

	first := model.ClampName(f.FirstName)
	last := model.ClampName(f.LastName)
	if first == "" && last == "" {
		first = model.NoNameSentinel
		changed = true
	}

	identity := model.UserIdentity{
		UUID:  id,
		FirstName: first,
		LastName:  last,
		ReceptionPolicy: model.ReceptionPolicy{
			UseDefaults:            f.ReceptionUseDefaults,
			Action:                 model.ReceptionAction(f.ReceptionAction),
			BasePath:               f.ReceptionBasePath,
			AppendSenderNameFolder: f.ReceptionAppendSender,
			AppendDateFolder:       f.ReceptionAppendDate,
		},
		OperationalMode: model.Online,
		FTPort:          f.FTPort,
		ITPort:          f.ITPort,
	}

	return identity, changed
}

func toFile(identity model.UserIdentity) identityFile {
	return identityFile{
		UUID:                  identity.UUID.String(),
		FirstName:             identity.FirstName,
		LastName:              identity.LastName,
		ReceptionUseDefaults:  identity.ReceptionPolicy.UseDefaults,
		ReceptionAction:       int(identity.ReceptionPolicy.Action),
		ReceptionBasePath:     identity.ReceptionPolicy.BasePath,
		ReceptionAppendSender: identity.ReceptionPolicy.AppendSenderNameFolder,
		ReceptionAppendDate:   identity.ReceptionPolicy.AppendDateFolder,
		FTPort:                identity.FTPort,
		ITPort:                identity.ITPort,
	}
}
