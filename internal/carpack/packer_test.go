package carpack

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func pack(t *testing.T, folder string) Result {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.car")
	res, err := NewPacker().Pack(folder, out)
	require.NoError(t, err)
	return res
}

func TestPack_Deterministic(t *testing.T) {
	files := map[string][]byte{
		"1.png": []byte("png bytes"),
		"2.png": []byte("more png bytes"),
	}

	first := pack(t, writeFiles(t, files))
	second := pack(t, writeFiles(t, files))

	assert.Equal(t, first.RootCID, second.RootCID)
	assert.True(t, strings.HasPrefix(first.RootCID, "bafy"), "directory root should be a dag-pb CIDv1, got %s", first.RootCID)
}

func TestPack_ByteChangeChangesRoot(t *testing.T) {
	base := pack(t, writeFiles(t, map[string][]byte{"1.png": []byte("aaaa")}))
	changed := pack(t, writeFiles(t, map[string][]byte{"1.png": []byte("aaab")}))

	assert.NotEqual(t, base.RootCID, changed.RootCID)
}

func TestPack_NameChangeChangesRoot(t *testing.T) {
	base := pack(t, writeFiles(t, map[string][]byte{"1.png": []byte("aaaa")}))
	renamed := pack(t, writeFiles(t, map[string][]byte{"2.png": []byte("aaaa")}))

	assert.NotEqual(t, base.RootCID, renamed.RootCID)
}

func TestPack_FileSetChangeChangesRoot(t *testing.T) {
	base := pack(t, writeFiles(t, map[string][]byte{"1.png": []byte("aaaa")}))
	extended := pack(t, writeFiles(t, map[string][]byte{
		"1.png": []byte("aaaa"),
		"2.png": []byte("bbbb"),
	}))

	assert.NotEqual(t, base.RootCID, extended.RootCID)
}

func TestPack_EmptyFolderIsValid(t *testing.T) {
	first := pack(t, t.TempDir())
	second := pack(t, t.TempDir())

	assert.NotEmpty(t, first.RootCID)
	assert.Equal(t, first.RootCID, second.RootCID)

	nonEmpty := pack(t, writeFiles(t, map[string][]byte{"1.png": []byte("x")}))
	assert.NotEqual(t, first.RootCID, nonEmpty.RootCID)
}

func TestPack_MultiChunkFile(t *testing.T) {
	// Three leaf blocks plus a partial fourth.
	big := bytes.Repeat([]byte{0xab}, 3*LeafChunkSize+100)

	first := pack(t, writeFiles(t, map[string][]byte{"big.mp4": big}))
	second := pack(t, writeFiles(t, map[string][]byte{"big.mp4": big}))
	assert.Equal(t, first.RootCID, second.RootCID)

	big[LeafChunkSize+1] ^= 0xff
	changed := pack(t, writeFiles(t, map[string][]byte{"big.mp4": big}))
	assert.NotEqual(t, first.RootCID, changed.RootCID)
}

func TestPack_MissingFolder(t *testing.T) {
	_, err := NewPacker().Pack(filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "out.car"))
	assert.ErrorIs(t, err, ErrPacking)
}

func TestPack_InputFolderUntouched(t *testing.T) {
	dir := writeFiles(t, map[string][]byte{"1.png": []byte("aaaa"), "2.png": []byte("bbbb")})
	pack(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestPack_CarFraming walks the varint framing of the produced archive:
// a header followed by at least one block, with every frame length
// consistent with the file size.
func TestPack_CarFraming(t *testing.T) {
	dir := writeFiles(t, map[string][]byte{"1.png": []byte("payload")})
	out := filepath.Join(t.TempDir(), "out.car")
	_, err := NewPacker().Pack(dir, out)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	frames := 0
	for off := 0; off < len(raw); frames++ {
		n, read, err := varint.FromUvarint(raw[off:])
		require.NoError(t, err)
		off += read + int(n)
		require.LessOrEqual(t, off, len(raw))
	}
	// Header, directory root, one raw leaf.
	assert.Equal(t, 3, frames)
}
