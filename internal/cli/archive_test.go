package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// archivedRun simulates the backoff scenario into a fresh archive: one
// warning check of three lines, then an in_flight dump (id 1) and a
// history dump (id 2).
func archivedRun(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "dumps.db")
	_, _, err := execute(t, "simulate",
		"--scenario", filepath.Join(scenarioDir, "slow_request_backoff.yaml"),
		"--archive", db)
	require.NoError(t, err)
	return db
}

func TestArchive_RequiresDB(t *testing.T) {
	_, _, err := execute(t, "archive", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}

func TestArchive_MissingDB(t *testing.T) {
	_, _, err := execute(t, "archive", "list", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "archive not found")
}

func TestArchiveList_Text(t *testing.T) {
	db := archivedRun(t)
	stdout, _, err := execute(t, "archive", "list", "--db", db)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "KIND")
	assert.Contains(t, lines[1], "history")
	assert.Contains(t, lines[2], "in_flight")
	assert.Contains(t, lines[1], "2024-01-01T00:00:55Z")
}

func TestArchiveList_FiltersAndLimit(t *testing.T) {
	db := archivedRun(t)

	stdout, _, err := execute(t, "--format", "json", "archive", "list", "--db", db, "--kind", "in_flight")
	require.NoError(t, err)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "in_flight", resp.Data[0]["kind"])
	assert.Equal(t, float64(1), resp.Data[0]["id"])

	stdout, _, err = execute(t, "--format", "json", "archive", "list", "--db", db, "--limit", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "history", resp.Data[0]["kind"])

	_, _, err = execute(t, "archive", "list", "--db", db, "--kind", "recent")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestArchiveShow(t *testing.T) {
	db := archivedRun(t)

	stdout, _, err := execute(t, "archive", "show", "--db", db, "--id", "1")
	require.NoError(t, err)
	var doc struct {
		NumOps int `json:"num_ops"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, 1, doc.NumOps)
	assert.True(t, strings.HasPrefix(stdout, `{"num_ops":1,"ops":[`))
}

func TestArchiveShow_YAML(t *testing.T) {
	db := archivedRun(t)

	stdout, _, err := execute(t, "--format", "yaml", "archive", "show", "--db", db, "--id", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "duration_to_keep: "), stdout)

	var doc struct {
		NumToKeep int `yaml:"num_to_keep"`
		Ops       []struct {
			Description string `yaml:"description"`
		} `yaml:"ops"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, 20, doc.NumToKeep)
	require.Len(t, doc.Ops, 1)
	assert.Contains(t, doc.Ops[0].Description, "rbd_header.2")
}

func TestArchiveShow_NotFound(t *testing.T) {
	db := archivedRun(t)
	_, _, err := execute(t, "archive", "show", "--db", db, "--id", "99")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no such dump")
}

func TestArchiveWarnings(t *testing.T) {
	db := archivedRun(t)

	stdout, _, err := execute(t, "archive", "warnings", "--db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#1 2 slow requests, 2 included below; oldest blocked for > 40 secs", lines[0])

	stdout, _, err = execute(t, "--format", "json", "archive", "warnings", "--db", db, "--checks", "1")
	require.NoError(t, err)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, float64(0), resp.Data[0]["position"])
	assert.Equal(t, "2024-01-01T00:00:40Z", resp.Data[0]["taken_at"])
}
