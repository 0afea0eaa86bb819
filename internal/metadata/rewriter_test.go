package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRootCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

// assetFolder builds <root>/{images,metadata} with the given files and
// returns the metadata folder path.
func assetFolder(t *testing.T, images map[string][]byte, records map[string]string) string {
	t.Helper()
	root := t.TempDir()
	imagesDir := filepath.Join(root, "images")
	metadataDir := filepath.Join(root, "metadata")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))
	require.NoError(t, os.MkdirAll(metadataDir, 0o755))

	for name, data := range images {
		require.NoError(t, os.WriteFile(filepath.Join(imagesDir, name), data, 0o644))
	}
	for name, body := range records {
		require.NoError(t, os.WriteFile(filepath.Join(metadataDir, name), []byte(body), 0o644))
	}
	return metadataDir
}

func readRecord(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(raw, &record))
	return record
}

func TestRewrite_InjectsImageLink(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{"1.png": []byte("png")},
		map[string]string{"1.json": `{"name": "Piece #1"}`},
	)

	n, err := NewRewriter(false).Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	record := readRecord(t, filepath.Join(dir, "1"))
	assert.Equal(t, "Piece #1", record["name"])
	assert.Equal(t, "ipfs://"+testRootCID+"/1.png", record["image"])
	assert.NotContains(t, record, "video")

	// The suffixed original must be gone.
	assert.NoFileExists(t, filepath.Join(dir, "1.json"))
}

func TestRewrite_VideoGetsVideoField(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{"clip.mp4": []byte("mp4")},
		map[string]string{"clip.json": `{"name": "Clip"}`},
	)

	_, err := NewRewriter(false).Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)

	record := readRecord(t, filepath.Join(dir, "clip"))
	assert.Equal(t, "ipfs://"+testRootCID+"/clip.mp4", record["video"])
	assert.NotContains(t, record, "image")
}

func TestRewrite_ExtensionProbeOrder(t *testing.T) {
	// Both .png and .mp4 exist; .png wins because it is probed first.
	dir := assetFolder(t,
		map[string][]byte{"1.png": []byte("png"), "1.mp4": []byte("mp4")},
		map[string]string{"1.json": `{}`},
	)

	_, err := NewRewriter(false).Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)

	record := readRecord(t, filepath.Join(dir, "1"))
	assert.Equal(t, "ipfs://"+testRootCID+"/1.png", record["image"])
}

func TestRewrite_DefaultsToPNG(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{},
		map[string]string{"ghost.json": `{}`},
	)

	_, err := NewRewriter(false).Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)

	record := readRecord(t, filepath.Join(dir, "ghost"))
	assert.Equal(t, "ipfs://"+testRootCID+"/ghost.png", record["image"])
}

// A second pass finds no .json source files: the first pass consumed
// them. That makes the rewrite non-idempotent by design, and the second
// invocation a no-op rather than a failure.
func TestRewrite_SecondPassIsNoOp(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{"1.png": []byte("png")},
		map[string]string{"1.json": `{"name": "x"}`},
	)

	r := NewRewriter(false)
	n, err := r.Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRewrite_MalformedRecordAbortsBatch(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{"1.png": []byte("png"), "2.png": []byte("png")},
		map[string]string{
			"1.json": `{not json`,
			"2.json": `{"name": "ok"}`,
		},
	)

	var failed []string
	n, err := NewRewriter(false).Rewrite(dir, testRootCID, func(name string, err error) {
		if err != nil {
			failed = append(failed, name)
		}
	})
	assert.ErrorIs(t, err, ErrRewrite)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"1.json"}, failed)

	// Batch aborted: the good record after the bad one was not touched.
	assert.FileExists(t, filepath.Join(dir, "2.json"))
	assert.NoFileExists(t, filepath.Join(dir, "2"))
}

func TestRewrite_SkipBadContinuesBatch(t *testing.T) {
	dir := assetFolder(t,
		map[string][]byte{"1.png": []byte("png"), "2.png": []byte("png")},
		map[string]string{
			"1.json": `{not json`,
			"2.json": `{"name": "ok"}`,
		},
	)

	n, err := NewRewriter(true).Rewrite(dir, testRootCID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.FileExists(t, filepath.Join(dir, "1.json"))
	assert.FileExists(t, filepath.Join(dir, "2"))
}
