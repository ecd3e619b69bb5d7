package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload"`
	Meta    struct {
		Command string `json:"command"`
		Mode    string `json:"mode"`
	} `json:"meta"`
}

// seedRepo writes a small Go project worth indexing.
func seedRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := `package auth

// Login authenticates a user, retrying three times before lockout.
func Login(user string) error {
	return attempt(user)
}

func attempt(user string) error {
	return nil
}
`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "auth"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "auth", "login.go"), []byte(src), 0o644))
	return root
}

func decodeEnvelope(t *testing.T, out string) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), "output: %s", out)
	return env
}

func TestCLI_IndexThenSearch(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	// Given: an indexed repository
	out, err := execute(t, "index", "--root", root, "--json")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.True(t, env.Success)
	assert.Equal(t, "index", env.Meta.Command)

	var stats struct {
		FilesIndexed int `json:"files_indexed"`
		Chunks       int `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &stats))
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Positive(t, stats.Chunks)

	// When: searching for the login behavior
	out, err = execute(t, "search", "login retry lockout", "--root", root, "--json")
	require.NoError(t, err)
	env = decodeEnvelope(t, out)
	require.True(t, env.Success)

	var res struct {
		Results []struct {
			Path string `json:"path"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &res))

	// Then: the login file ranks
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "auth/login.go", res.Results[0].Path)
}

func TestCLI_IndexPlainOutput(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	out, err := execute(t, "index", "--root", root, "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Complete:")
}

func TestCLI_StatusAfterIndex(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	_, err := execute(t, "index", "--root", root, "--json")
	require.NoError(t, err)

	out, err := execute(t, "status", "--root", root, "--json")
	require.NoError(t, err)

	var info struct {
		Files int `json:"files"`
		Spans int `json:"spans"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 1, info.Files)
	assert.Positive(t, info.Spans)
}

func TestCLI_AssemblePacksWithinBudget(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	_, err := execute(t, "index", "--root", root, "--json")
	require.NoError(t, err)

	out, err := execute(t, "assemble", "login retry", "--root", root, "--json", "--budget", "500")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.True(t, env.Success)

	var res struct {
		Bundle struct {
			Items       []json.RawMessage `json:"items"`
			TokenReport struct {
				Budget  int `json:"budget"`
				EstUsed int `json:"est_used"`
			} `json:"token_report"`
		} `json:"bundle"`
		InteractionID string `json:"interaction_id"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &res))
	assert.NotEmpty(t, res.Bundle.Items)
	assert.Equal(t, 500, res.Bundle.TokenReport.Budget)
	assert.LessOrEqual(t, res.Bundle.TokenReport.EstUsed, 500)
}

func TestCLI_RememberRecallForget(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	_, err := execute(t, "remember", "we shard by tenant id", "--root", root,
		"--session", "s1", "--key", "sharding")
	require.NoError(t, err)

	out, err := execute(t, "recall", "tenant", "--root", root, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "shard by tenant id")

	_, err = execute(t, "forget", "--root", root, "--session", "s1", "--key", "sharding")
	require.NoError(t, err)

	out, err = execute(t, "recall", "--root", root, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing remembered")
}

func TestCLI_LearnDryRunOnEmptyHistory(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	out, err := execute(t, "learn", "--root", root, "--json")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.True(t, env.Success)

	var rep struct {
		Signals int  `json:"signals"`
		Applied bool `json:"applied"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &rep))
	assert.Zero(t, rep.Signals)
	assert.False(t, rep.Applied)
}

func TestCLI_HealthReportsChecks(t *testing.T) {
	isolate(t)
	root := seedRepo(t)

	out, err := execute(t, "health", "--root", root, "--json")
	require.NoError(t, err)
	env := decodeEnvelope(t, out)
	require.True(t, env.Success)

	var rep struct {
		Status string `json:"status"`
		Checks []struct {
			Name string `json:"name"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &rep))
	assert.NotEmpty(t, rep.Checks)
}

func TestCLI_VersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}
