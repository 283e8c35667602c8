package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConfigPath(t *testing.T) {
	dir, err := ioutil.TempDir("", "skymesh-pathutil")
	require.NoError(t, err)
	defer func() { require.NoError(t, os.RemoveAll(dir)) }()

	home := filepath.Join(dir, "home.json")
	require.NoError(t, ioutil.WriteFile(home, []byte("{}"), 0600))
	candidates := []string{filepath.Join(dir, "missing.json"), home}

	const env = "SKYMESH_PATHUTIL_TEST"
	require.NoError(t, os.Unsetenv(env))

	assert.Equal(t, "arg.json", FindConfigPath("arg.json", env, candidates...))
	assert.Equal(t, home, FindConfigPath("", env, candidates...))
	assert.Equal(t, "", FindConfigPath("", env))

	require.NoError(t, os.Setenv(env, "env.json"))
	defer func() { require.NoError(t, os.Unsetenv(env)) }()
	assert.Equal(t, "env.json", FindConfigPath("", env, candidates...))
	assert.Equal(t, "arg.json", FindConfigPath("arg.json", env, candidates...))
}

func TestWriteJSONConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "skymesh-pathutil")
	require.NoError(t, err)
	defer func() { require.NoError(t, os.RemoveAll(dir)) }()

	output := filepath.Join(dir, "nested", "config.json")
	conf := map[string]string{"version": "1.0"}

	require.NoError(t, WriteJSONConfig(conf, output, false))
	raw, err := ioutil.ReadFile(output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "1.0"}`, string(raw))

	assert.Error(t, WriteJSONConfig(conf, output, false))
	assert.NoError(t, WriteJSONConfig(conf, output, true))
}

func TestLocation(t *testing.T) {
	path, err := Local.ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/skycoin/skymesh/skymesh-config.json", path)

	path, err = Home.ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, ConfigFile, filepath.Base(path))

	var l Location
	require.NoError(t, l.Set("home"))
	assert.Equal(t, Home, l)
	assert.Error(t, l.Set("nowhere"))
	assert.Equal(t, Home, l)

	_, err = Location("nowhere").Dir()
	assert.Error(t, err)
	assert.Len(t, DefaultConfigPaths(), len(Locations))
}
