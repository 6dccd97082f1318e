package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestConfigSet_WritesFile(t *testing.T) {
	home := withHome(t)

	var out bytes.Buffer
	configSetCmd.SetOut(&out)
	require.NoError(t, runConfigSet(configSetCmd, []string{"BASHNOTES_ROOT", "/srv/notes"}))
	assert.Contains(t, out.String(), "Set BASHNOTES_ROOT = /srv/notes")

	data, err := os.ReadFile(filepath.Join(home, ".bashnotes", "config.env"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `BASHNOTES_ROOT="/srv/notes"`)

	values, err := loadConfigFile()
	require.NoError(t, err)
	assert.Equal(t, "/srv/notes", values["BASHNOTES_ROOT"])
}

func TestConfigSet_EmptyValueRemovesKey(t *testing.T) {
	withHome(t)
	configSetCmd.SetOut(&bytes.Buffer{})

	require.NoError(t, runConfigSet(configSetCmd, []string{"BASHNOTES_ADDR", ":9000"}))
	require.NoError(t, runConfigSet(configSetCmd, []string{"BASHNOTES_ADDR", ""}))

	values, err := loadConfigFile()
	require.NoError(t, err)
	_, ok := values["BASHNOTES_ADDR"]
	assert.False(t, ok)
}

func TestConfigSet_UnknownKey(t *testing.T) {
	withHome(t)
	err := runConfigSet(configSetCmd, []string{"GITHUB_TOKEN", "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	withHome(t)
	values, err := loadConfigFile()
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestConfigShow_Sources(t *testing.T) {
	withHome(t)
	configSetCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, runConfigSet(configSetCmd, []string{"BASHNOTES_CACHE_SIZE", "16"}))
	t.Setenv("BASHNOTES_ADDR", ":4000")

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	require.NoError(t, runConfigShow(configShowCmd, nil))

	lines := out.String()
	assert.Contains(t, lines, ":4000 (from env)")
	assert.Contains(t, lines, "16 (from config file)")
	assert.Contains(t, lines, "host (default)")
	assert.True(t, strings.HasPrefix(lines, "Config file: "))
}

func TestResolveServerURL(t *testing.T) {
	withHome(t)
	t.Setenv("BASHNOTES_SERVER", "")
	saved := serverURL
	t.Cleanup(func() { serverURL = saved })

	require.NoError(t, resolveServerURL(runsCmd, nil))
	assert.Equal(t, defaultServerURL, serverURL)

	configSetCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, runConfigSet(configSetCmd, []string{"BASHNOTES_SERVER", "http://notes.internal:8080"}))
	require.NoError(t, resolveServerURL(runsCmd, nil))
	assert.Equal(t, "http://notes.internal:8080", serverURL)
	assert.Empty(t, os.Getenv("BASHNOTES_SERVER"), "the config file is read, not loaded into the environment")

	t.Setenv("BASHNOTES_SERVER", "http://env:1")
	require.NoError(t, resolveServerURL(notifyCmd, nil))
	assert.Equal(t, "http://env:1", serverURL)
}

func TestResolveServerURL_FlagWins(t *testing.T) {
	withHome(t)
	t.Setenv("BASHNOTES_SERVER", "http://env:1")
	saved := serverURL
	t.Cleanup(func() {
		serverURL = saved
		rootCmd.PersistentFlags().Lookup("server").Changed = false
	})

	require.NoError(t, rootCmd.PersistentFlags().Set("server", "http://flag:2"))
	require.NoError(t, resolveServerURL(runsCmd, nil))
	assert.Equal(t, "http://flag:2", serverURL)
}
