package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

//nolint:paralleltest // serve binds flags to the global viper instance
func TestServeCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "config flag is required",
			args:    []string{"serve"},
			wantErr: `required flag(s) "config" not set`,
		},
		{
			name:    "missing config file",
			args:    []string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "failed to load configuration",
		},
		{
			name:    "invalid configuration",
			args:    []string{"serve", "--config", writeConfig(t, "storage: file\n")},
			wantErr: "storage must be",
		},
		{
			name: "invalid address",
			args: []string{"serve", "--address", "nowhere", "--config",
				writeConfig(t, "buildSystem:\n  type: local\n  repositoryDir: "+t.TempDir()+"\n")},
			wantErr: "address is not a valid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
