package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	DefaultConfigName = "unibox.yaml"
	ProfileExt        = ".yaml"
	// ConfigEnv overrides both the active profile and the working
	// directory default.
	ConfigEnv = "UNIBOX_CONFIG"
)

// stateDir is ~/.unibox, or ./.unibox when no home directory is known.
func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".unibox"
	}
	return filepath.Join(home, ".unibox")
}

// ProfileDir is where named profiles live.
func ProfileDir() string { return filepath.Join(stateDir(), "profiles") }

// ActiveProfileFile stores the name selected with "unibox config use".
func ActiveProfileFile() string { return filepath.Join(stateDir(), "active_profile") }

// ProfilePath maps a profile name to its file. The empty name maps to
// unibox.yaml in the working directory.
func ProfilePath(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultConfigName
	}
	return filepath.Join(ProfileDir(), name+ProfileExt)
}

// DefaultPath picks the config file when none is given on the command
// line, checking UNIBOX_CONFIG first and the active profile second.
func DefaultPath() string {
	if env := strings.TrimSpace(os.Getenv(ConfigEnv)); env != "" {
		return env
	}
	if name, err := ReadActiveProfile(); err == nil && name != "" {
		return ProfilePath(name)
	}
	return DefaultConfigName
}

// ReadActiveProfile returns "" with a nil error when no profile is selected.
func ReadActiveProfile() (string, error) {
	raw, err := os.ReadFile(ActiveProfileFile())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteActiveProfile records name as the active profile. Passing "" removes
// the marker file.
func WriteActiveProfile(name string) error {
	marker := ActiveProfileFile()
	if name = strings.TrimSpace(name); name == "" {
		err := os.Remove(marker)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return err
	}
	return os.WriteFile(marker, []byte(name+"\n"), 0o644)
}

// ListProfiles returns the profile names found in ProfileDir in sorted order.
func ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(ProfileDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ProfileExt)
		if e.IsDir() || !ok {
			continue
		}
		names = append(names, base)
	}
	slices.Sort(names)
	return names, nil
}
