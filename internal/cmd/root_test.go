package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name:    "help flag",
			args:    []string{"--help"},
			wantErr: false,
		},
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantErr: false,
		},
		{
			name:    "verbose flag",
			args:    []string{"--verbose", "--help"},
			wantErr: false,
		},
		{
			name:    "domain flags parse alongside help",
			args:    []string{"--profile", "ci", "--test-threads", "4", "--fail-fast", "--max-fail", "2", "-E", "test(slow)", "--message-format", "json-lines", "--help"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Capture output
			buf := new(bytes.Buffer)
			rootCmd.SetOut(buf)
			rootCmd.SetErr(buf)

			// Set args
			rootCmd.SetArgs(tt.args)

			// Execute
			err := rootCmd.Execute()

			// Check error expectation
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}

			// Reset for next test
			rootCmd.SetArgs(nil)
		})
	}
}

func TestInitConfig(t *testing.T) {
	// Test that config initialization doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("initConfig() panicked: %v", r)
		}
	}()

	initConfig()
}

func TestInitLogger(t *testing.T) {
	// Test that logger initialization doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("initLogger() panicked: %v", r)
		}
	}()

	initLogger()
}

const rootTestProfileTOML = `
[profile.default]
test-threads = 2
fail-fast = false
`

// resetFlags resets every persistent flag this package's other tests (and
// a prior subtest here) may have mutated, via the same pflag.Set path a
// real invocation uses, so loadProfile's viper lookups start from the
// registered defaults.
func resetFlags(t *testing.T) {
	t.Helper()
	for name, def := range map[string]string{
		"profile":      "default",
		"test-threads": "0",
		"fail-fast":    "false",
		"max-fail":     "0",
	} {
		require.NoError(t, rootCmd.PersistentFlags().Set(name, def))
	}
	cfgFile = ""
}

func TestLoadProfileNoConfigFile(t *testing.T) {
	resetFlags(t)
	defer resetFlags(t)
	_, err := loadProfile()
	require.Error(t, err)
}

func TestLoadProfileAppliesFlagOverrides(t *testing.T) {
	resetFlags(t)
	defer resetFlags(t)

	path := filepath.Join(t.TempDir(), "nextrun.toml")
	require.NoError(t, os.WriteFile(path, []byte(rootTestProfileTOML), 0o644))
	cfgFile = path
	require.NoError(t, rootCmd.PersistentFlags().Set("test-threads", "6"))
	require.NoError(t, rootCmd.PersistentFlags().Set("fail-fast", "true"))
	require.NoError(t, rootCmd.PersistentFlags().Set("max-fail", "3"))

	p, err := loadProfile()
	require.NoError(t, err)
	require.Equal(t, 6, p.TestThreads)
	require.True(t, p.FailFast)
	require.NotNil(t, p.MaxFail)
	require.Equal(t, 3, *p.MaxFail)
}

func TestLoadProfileFlagsLeaveFileValuesWhenUnset(t *testing.T) {
	resetFlags(t)
	defer resetFlags(t)

	path := filepath.Join(t.TempDir(), "nextrun.toml")
	require.NoError(t, os.WriteFile(path, []byte(rootTestProfileTOML), 0o644))
	cfgFile = path

	p, err := loadProfile()
	require.NoError(t, err)
	require.Equal(t, 2, p.TestThreads)
	require.False(t, p.FailFast)
}
