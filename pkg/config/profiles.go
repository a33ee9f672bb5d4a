package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Profile holds the connection settings for one server environment.
// Command-line flags override any value set here.
type Profile struct {
	BaseURL      string `yaml:"base-url"`
	WSURL        string `yaml:"ws-url"`
	EnterpriseID string `yaml:"enterprise-id"`
	UserID       string `yaml:"user-id"`
	Workflow     string `yaml:"workflow,omitempty"`
}

// Profiles is the on-disk profile file (~/.mozaiks/profiles.yaml).
type Profiles struct {
	Default  string             `yaml:"default,omitempty"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// DefaultProfilesPath returns ~/.mozaiks/profiles.yaml.
func DefaultProfilesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".mozaiks", "profiles.yaml"), nil
}

// LoadProfiles reads the profile file. A missing file yields an empty set,
// not an error, so first runs work with flags alone.
func LoadProfiles(path string) (*Profiles, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("no profiles file, using empty profile set")
		return &Profiles{Profiles: map[string]Profile{}}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read profiles file %s", path)
	}

	ret := &Profiles{}
	if err := yaml.Unmarshal(buf, ret); err != nil {
		return nil, errors.Wrapf(err, "could not parse profiles file %s", path)
	}
	if ret.Profiles == nil {
		ret.Profiles = map[string]Profile{}
	}
	return ret, nil
}

// SaveProfiles writes the profile file, creating the directory if needed.
func SaveProfiles(path string, profiles *Profiles) error {
	if profiles == nil {
		return errors.New("profiles cannot be nil")
	}
	buf, err := yaml.Marshal(profiles)
	if err != nil {
		return errors.Wrap(err, "could not marshal profiles")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", path)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errors.Wrapf(err, "could not write profiles file %s", path)
	}
	return nil
}

// Get resolves a profile by name. An empty name falls back to the file's
// default, then to "default".
func (p *Profiles) Get(name string) (Profile, error) {
	resolved := strings.TrimSpace(name)
	if resolved == "" {
		resolved = p.Default
	}
	if resolved == "" {
		resolved = "default"
	}
	profile, ok := p.Profiles[resolved]
	if !ok {
		if name == "" {
			// no profile configured at all; flags must carry everything
			return Profile{}, nil
		}
		return Profile{}, errors.Errorf("unknown profile %q (have: %s)", resolved, strings.Join(p.Names(), ", "))
	}
	return profile, nil
}

// Names lists the configured profile names, sorted.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
