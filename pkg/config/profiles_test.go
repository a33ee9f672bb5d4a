package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadProfiles_MissingFile(t *testing.T) {
	p, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Empty(t, p.Profiles)

	profile, err := p.Get("")
	require.NoError(t, err)
	require.Equal(t, Profile{}, profile)

	_, err = p.Get("staging")
	require.Error(t, err)
}

func TestLoadProfiles_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	err := SaveProfiles(path, &Profiles{
		Default: "staging",
		Profiles: map[string]Profile{
			"staging": {
				BaseURL:      "https://staging.example.com",
				WSURL:        "wss://staging.example.com",
				EnterpriseID: "ent-1",
				UserID:       "user-1",
				Workflow:     "app_builder",
			},
			"prod": {
				BaseURL: "https://api.example.com",
			},
		},
	})
	require.NoError(t, err)

	p, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Equal(t, []string{"prod", "staging"}, p.Names())

	// empty name resolves the file default
	profile, err := p.Get("")
	require.NoError(t, err)
	require.Equal(t, "https://staging.example.com", profile.BaseURL)
	require.Equal(t, "app_builder", profile.Workflow)

	profile, err = p.Get("prod")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", profile.BaseURL)
}

func TestLoadProfiles_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [not a map"), 0o644))
	_, err := LoadProfiles(path)
	require.Error(t, err)
}
