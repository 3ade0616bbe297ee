package testlist

import (
	"context"
	"strings"
	"testing"

	"github.com/jpequegn/nextrun/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCargoMessages(t *testing.T) {
	input := strings.Join([]string{
		`{"reason":"compiler-artifact","profile":{"test":true},"target":{"name":"mycrate","kind":["lib"]},"package_id":"mycrate 0.1.0","executable":"/tmp/mycrate-abc"}`,
		`{"reason":"compiler-artifact","profile":{"test":false},"target":{"name":"mycrate","kind":["lib"]},"package_id":"mycrate 0.1.0","executable":"/tmp/other"}`,
		`{"reason":"build-finished"}`,
		``,
	}, "\n")

	bins, errs := DecodeCargoMessages(strings.NewReader(input), query.Target)
	require.Empty(t, errs)
	require.Len(t, bins, 1)
	assert.Equal(t, "/tmp/mycrate-abc", bins[0].Path)
	assert.Equal(t, "lib", bins[0].Kind)
}

func TestDecodeCargoMessagesMalformedLineCollected(t *testing.T) {
	input := "not json\n" + `{"reason":"compiler-artifact","profile":{"test":true},"target":{"name":"m","kind":["lib"]},"package_id":"m","executable":"/bin/m"}`
	bins, errs := DecodeCargoMessages(strings.NewReader(input), query.Target)
	require.Len(t, errs, 1)
	require.Len(t, bins, 1)
}

type fakeRunner struct {
	normal  string
	ignored string
}

func (f fakeRunner) Output(ctx context.Context, path string, args []string) ([]byte, error) {
	for _, a := range args {
		if a == "--ignored" {
			return []byte(f.ignored), nil
		}
	}
	return []byte(f.normal), nil
}

func TestListBinaryUnion(t *testing.T) {
	bin := &TestBinary{Path: "/bin/t", PackageID: "p", BinaryName: "t", Kind: "lib", Platform: query.Target}
	runner := fakeRunner{
		normal:  "test_one: test\ntest_two: test\n",
		ignored: "test_three: test\n",
	}
	instances, err := ListBinary(context.Background(), bin, runner)
	require.NoError(t, err)
	require.Len(t, instances, 3)

	byName := map[string]*TestInstance{}
	for _, i := range instances {
		byName[i.TestName] = i
	}
	assert.False(t, byName["test_one"].Ignored)
	assert.False(t, byName["test_two"].Ignored)
	assert.True(t, byName["test_three"].Ignored)
}

func TestParseTerseListRejectsGarbage(t *testing.T) {
	_, err := parseTerseList([]byte("garbage line\n"))
	require.Error(t, err)
}
