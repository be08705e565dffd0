package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsCmdUsesMercureHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MERCURE_HOME", home)

	cmd := NewPathsCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var out PathsOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, filepath.Join(home, "config"), out.ConfigDir)
	assert.Equal(t, filepath.Join(home, "state"), out.StateDir)
	assert.Equal(t, filepath.Join(home, "cache"), out.CacheDir)
	assert.Contains(t, out.SessionFile, home)
	assert.Contains(t, out.LogDir, home)
}
