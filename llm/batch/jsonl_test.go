package batch

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/batchflow/testutil"
)

var batchFilePattern = regexp.MustCompile(`^batch_\d{8}_\d{6}_[0-9a-f]{8}\.jsonl$`)

func newTestProcessor(t *testing.T, client RemoteClient, opts ...ProcessorOption) *BatchProcessor {
	t.Helper()
	cfg := DefaultBatchConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "batches")
	return NewBatchProcessor(cfg, client, zaptest.NewLogger(t), opts...)
}

func TestBuildJSONL_LinesAndIDs(t *testing.T) {
	bp := newTestProcessor(t, nil)
	reqs := []BatchRequest{
		bp.CreateBatchRequest("one", WithCustomID("a")),
		bp.CreateBatchRequest("two", WithCustomID("b")),
		bp.CreateBatchRequest("three", WithCustomID("c")),
	}
	before := append([]BatchRequest(nil), reqs...)

	path, err := bp.BuildJSONL(reqs)
	require.NoError(t, err)

	assert.Regexp(t, batchFilePattern, filepath.Base(path))
	records := testutil.ReadJSONL[WireRecord](t, path)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, reqs[i].CustomID, rec.CustomID)
		assert.Equal(t, reqs[i].Text, rec.PromptText())
	}
	assert.Equal(t, before, reqs, "requests must not be mutated")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestBuildJSONL_PreservesNonASCII(t *testing.T) {
	bp := newTestProcessor(t, nil)
	path, err := bp.BuildJSONL([]BatchRequest{bp.CreateBatchRequest("你好 <world> & ü")})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "你好 <world> & ü")
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestBuildJSONL_Empty(t *testing.T) {
	bp := newTestProcessor(t, nil)
	path, err := bp.BuildJSONL(nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestBuildJSONL_Rejects(t *testing.T) {
	bp := newTestProcessor(t, nil)

	_, err := bp.BuildJSONL([]BatchRequest{
		bp.CreateBatchRequest("x", WithCustomID("dup")),
		bp.CreateBatchRequest("y", WithCustomID("dup")),
	})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = bp.BuildJSONL([]BatchRequest{{Text: "no id", ModelName: "m", MaxOutputTokens: 1}})
	assert.Error(t, err)
}

func TestBuildJSONL_DistinctFiles(t *testing.T) {
	bp := newTestProcessor(t, nil)
	reqs := []BatchRequest{bp.CreateBatchRequest("x")}

	p1, err := bp.BuildJSONL(reqs)
	require.NoError(t, err)
	p2, err := bp.BuildJSONL(reqs)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestResultsFilePath(t *testing.T) {
	assert.Equal(t, "dir/batch_1_results.jsonl", resultsFilePath("dir/batch_1.jsonl"))
	assert.Equal(t, "dir/plain_results.jsonl", resultsFilePath("dir/plain"))
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, removeIfExists(path))
	require.NoError(t, removeIfExists(path), "missing file is not an error")
	require.NoError(t, removeIfExists(""))
	testutil.AssertFileMissing(t, path)
}

func TestReadWireRecords_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"custom_id\":\"a\"}\n\nnot json\n"), 0o644))

	_, err := readWireRecords(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl:3")
}
