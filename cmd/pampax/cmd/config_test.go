package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax/pampax/internal/errors"
)

// isolate keeps the user config layer out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestConfigShow_PrintsEffectiveYAML(t *testing.T) {
	isolate(t)

	// Given: a project file overriding one search knob
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".pampax.yaml"),
		[]byte("search:\n  default_k: 7\n"), 0o644))

	// When: showing the effective config
	out, err := execute(t, "config", "show", "--root", root)

	// Then: the override and an untouched default both appear
	require.NoError(t, err)
	assert.Contains(t, out, "default_k: 7")
	assert.Contains(t, out, "rrf_constant: 60")
}

func TestConfigValidate_AcceptsDefaults(t *testing.T) {
	isolate(t)

	out, err := execute(t, "config", "validate", "--root", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestConfigValidate_RejectsBadBudget(t *testing.T) {
	isolate(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".pampax.yaml"),
		[]byte("packing:\n  default_budget: -5\n"), 0o644))

	_, err := execute(t, "config", "validate", "--root", root)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput))
}

func TestConfigValidate_WarnsOnUnknownKeys(t *testing.T) {
	isolate(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".pampax.yaml"),
		[]byte("search:\n  default_kk: 9\n"), 0o644))

	out, err := execute(t, "config", "validate", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "default_kk")
}

func TestConfigInit_WritesValidTemplate(t *testing.T) {
	isolate(t)

	// Given: an initialized project file
	root := t.TempDir()
	_, err := execute(t, "config", "init", "--root", root)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, ".pampax.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant")

	// Then: the template layers and validates cleanly
	out, err := execute(t, "config", "validate", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	isolate(t)

	root := t.TempDir()
	_, err := execute(t, "config", "init", "--root", root)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", "--root", root)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	_, err = execute(t, "config", "init", "--root", root, "--force")
	require.NoError(t, err)
}

func TestConfigExport_WritesProjectFile(t *testing.T) {
	isolate(t)

	root := t.TempDir()
	_, err := execute(t, "config", "export", "--root", root)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, ".pampax.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant")
}

func TestConfigExport_CustomDestination(t *testing.T) {
	isolate(t)

	dest := filepath.Join(t.TempDir(), "exported.yaml")
	_, err := execute(t, "config", "export", "--root", t.TempDir(), "--output", dest)
	require.NoError(t, err)

	_, statErr := os.Stat(dest)
	require.NoError(t, statErr)
}
