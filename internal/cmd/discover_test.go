package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeListingScript writes a fake test binary that implements the
// `--list --format terse [--ignored]` protocol testlist.ListBinary expects.
func writeListingScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_test_binary.sh")
	body := `#!/bin/sh
case "$*" in
  *--ignored*) echo "slow_test: test" ;;
  *) echo "fast_test: test"; echo "other_test: test" ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestDiscoverListNoFilter(t *testing.T) {
	filterExprs = nil
	bin := writeListingScript(t)
	list, err := discoverList(context.Background(), []string{bin})
	require.NoError(t, err)
	require.Len(t, list.Instances, 3)
}

func TestDiscoverListAppliesFilter(t *testing.T) {
	bin := writeListingScript(t)
	filterExprs = []string{"test(fast_test)"}
	defer func() { filterExprs = nil }()

	list, err := discoverList(context.Background(), []string{bin})
	require.NoError(t, err)
	require.Len(t, list.Instances, 1)
	require.Equal(t, "fast_test", list.Instances[0].TestName)
}
