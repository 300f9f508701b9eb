package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gammacoder/ceph/internal/config"
)

func TestConfigValidate_Valid(t *testing.T) {
	path := writeTemp(t, "tunables.yaml", "history_size: 5\ncomplaint_time: 45s\n")
	stdout, _, err := execute(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "Config valid: "+path+"\n", stdout)
}

func TestConfigValidate_JSON(t *testing.T) {
	path := writeTemp(t, "tunables.yaml", "history_size: 5\ncomplaint_time: 45s\n")
	stdout, _, err := execute(t, "--format", "json", "config", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(5), resp.Data["history_size"])
	assert.Equal(t, "45s", resp.Data["complaint_time"])
	assert.Equal(t, "10m0s", resp.Data["history_duration"])
}

func TestConfigValidate_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCode string
	}{
		{"unknown key", "history_sise: 5\n", config.ErrCodeParse},
		{"bad duration", "complaint_time: soon\n", config.ErrCodeParse},
		{"negative size", "history_size: -1\n", config.ErrCodeSchema},
		{"zero complaint time", "complaint_time: 0s\n", config.ErrCodeSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "tunables.yaml", tt.content)
			stdout, _, err := execute(t, "config", "validate", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+tt.wantCode+"]")
		})
	}
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, _, err := execute(t, "config", "validate", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigValidate_RequiresArg(t *testing.T) {
	_, _, err := execute(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestConfigDefaults_Text(t *testing.T) {
	stdout, _, err := execute(t, "config", "defaults")
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestConfigDefaults_YAML(t *testing.T) {
	stdout, _, err := execute(t, "--format", "yaml", "config", "defaults")
	require.NoError(t, err)
	assert.Contains(t, stdout, "status: ok")
	assert.Contains(t, stdout, "complaint_time: 30s")
	assert.Contains(t, stdout, "history_size: 20")
}
