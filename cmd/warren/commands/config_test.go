package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunConfig(t *testing.T) {
	withRoot(t, t.TempDir())

	prev := configExplain
	t.Cleanup(func() { configExplain = prev })

	configExplain = false
	require.NoError(t, runConfig(configCmd, nil))
	configExplain = true
	require.NoError(t, runConfig(configCmd, nil))
}

func TestRunConfigWithFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  root_path: "+root+"\n"), 0o644))

	prevFile := configFile
	configFile = path
	t.Cleanup(func() { configFile = prevFile })
	prevExplain := configExplain
	configExplain = true
	t.Cleanup(func() { configExplain = prevExplain })

	require.NoError(t, runConfig(configCmd, nil))
}
