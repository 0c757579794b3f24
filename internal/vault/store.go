package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	tverrors "github.com/teamvault/teamvault/internal/errors"
)

// DefaultFileName is the vault file teamvault looks for in a project.
const DefaultFileName = "teamvault.yaml"

// vaultSchema validates the structural shape of a vault file before
// the typed unmarshal. Semantic checks (key formats, fingerprint
// freshness) happen elsewhere.
const vaultSchema = `{
  "type": "object",
  "required": ["version", "id", "recipients"],
  "properties": {
    "version": {"type": "string"},
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "fingerprint": {"type": "string"},
    "recipients": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    },
    "secrets": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  },
  "additionalProperties": false
}`

// Store loads and saves one vault file. A Store is a single exclusive
// session: Load records a checksum of the bytes read, and Save refuses
// to overwrite a file that changed since, surfacing the race as
// ErrConcurrentModification instead of silently losing the other
// writer's update.
type Store struct {
	path     string
	loadedAt string // checksum of the file content at Load time
	lockPath string
	locked   bool
}

// NewStore creates a store for the vault file at path.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the vault file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a vault file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Lock takes the exclusive write lock for this vault. It must be held
// for the whole load-mutate-save session of any mutating command.
func (s *Store) Lock() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock file %s exists: %w", s.lockPath, tverrors.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return err
	}
	s.locked = true
	return nil
}

// Unlock releases the write lock. Safe to call when not locked.
func (s *Store) Unlock() {
	if !s.locked {
		return
	}
	_ = os.Remove(s.lockPath)
	s.locked = false
}

// Load reads, validates, and parses the vault file.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", s.path, tverrors.ErrNotInitialized)
		}
		return nil, tverrors.Wrap("load", s.path, err)
	}

	sum := sha256.Sum256(data)
	s.loadedAt = hex.EncodeToString(sum[:])

	if err := validateShape(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, tverrors.UserError{
			Message:    "invalid YAML in vault file",
			Details:    err.Error(),
			Suggestion: "Check indentation and quoting, or restore the file from version control",
			Err:        tverrors.ErrMalformedInput,
		}
	}

	if cfg.Version != FormatVersion {
		return nil, tverrors.UserError{
			Message:    fmt.Sprintf("unsupported vault format version %q", cfg.Version),
			Suggestion: "Upgrade teamvault to a release that reads this format",
			Err:        tverrors.ErrMalformedInput,
		}
	}

	if cfg.Recipients == nil {
		cfg.Recipients = map[string]string{}
	}
	if cfg.Secrets == nil {
		cfg.Secrets = map[string]string{}
	}

	return &cfg, nil
}

// Save writes the config atomically: marshal to a temp file in the
// same directory, fsync, then rename over the original. If the file
// on disk no longer matches what this session loaded, the save aborts
// with ErrConcurrentModification.
func (s *Store) Save(cfg *Config) error {
	if err := s.checkUnmodified(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return tverrors.Wrap("save", s.path, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".teamvault-*.tmp")
	if err != nil {
		return tverrors.Wrap("save", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return tverrors.Wrap("save", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tverrors.Wrap("save", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return tverrors.Wrap("save", s.path, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return tverrors.Wrap("save", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return tverrors.Wrap("save", s.path, err)
	}

	sum := sha256.Sum256(data)
	s.loadedAt = hex.EncodeToString(sum[:])
	return nil
}

// Init creates a fresh vault file with the given first recipient.
// Fails if a vault already exists at the path.
func (s *Store) Init(name, recipientName, publicKey string) (*Config, error) {
	if s.Exists() {
		return nil, tverrors.UserError{
			Message:    fmt.Sprintf("vault already exists at %s", s.path),
			Suggestion: "Use 'teamvault team add' to add members to the existing vault",
		}
	}

	cfg := &Config{
		Version:    FormatVersion,
		ID:         uuid.NewString(),
		Name:       name,
		Recipients: map[string]string{recipientName: publicKey},
		Secrets:    map[string]string{},
	}
	cfg.Fingerprint = cfg.CurrentFingerprint()

	if err := s.Save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Store) checkUnmodified() error {
	if s.loadedAt == "" {
		// Nothing was loaded in this session (fresh init); only refuse
		// to clobber a file that appeared meanwhile.
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("vault file deleted during session: %w", tverrors.ErrConcurrentModification)
		}
		return tverrors.Wrap("save", s.path, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != s.loadedAt {
		return fmt.Errorf("%s: %w", s.path, tverrors.ErrConcurrentModification)
	}
	return nil
}

func validateShape(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return tverrors.UserError{
			Message:    "invalid YAML in vault file",
			Details:    err.Error(),
			Suggestion: "Check indentation and quoting",
			Err:        tverrors.ErrMalformedInput,
		}
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to project vault file for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(vaultSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return tverrors.UserError{
			Message:    "vault file failed schema validation",
			Details:    strings.Join(msgs, "; "),
			Suggestion: "Restore the vault file from version control",
			Err:        tverrors.ErrMalformedInput,
		}
	}
	return nil
}

// AccessProbe attempts to decrypt one representative ciphertext with
// the active identity; used to derive VaultInfo.HasAccess without
// exposing values.
type AccessProbe func(ciphertext string) bool

// ListVaults scans the given directories for vault files and returns
// their read-only projections. Unreadable or malformed vaults are
// skipped rather than failing the listing.
func ListVaults(dirs []string, probe AccessProbe) []VaultInfo {
	var infos []VaultInfo
	for _, dir := range dirs {
		path := filepath.Join(dir, DefaultFileName)
		cfg, err := NewStore(path).Load()
		if err != nil {
			continue
		}

		info := VaultInfo{
			Name:           cfg.Name,
			Path:           path,
			SecretCount:    len(cfg.Secrets),
			RecipientCount: len(cfg.Recipients),
		}
		if info.Name == "" {
			info.Name = filepath.Base(dir)
		}

		if probe != nil {
			if len(cfg.Secrets) == 0 {
				// Nothing to trial-decrypt; having no secrets means
				// nothing is withheld from the caller.
				info.HasAccess = true
			} else {
				for _, k := range cfg.SecretKeys() {
					info.HasAccess = probe(cfg.Secrets[k])
					break
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}
