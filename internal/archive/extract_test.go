package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name    string
	body    string
	nonUTF8 bool
}

func writeZip(t *testing.T, dir string, entries ...zipEntry) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:    e.name,
			Method:  zip.Deflate,
			NonUTF8: e.nonUTF8,
		})
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "upload.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o640))
	return path
}

func TestExtractFilePreservesRelativePaths(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	archivePath := writeZip(t, src,
		zipEntry{name: "a.pdf", body: "A"},
		zipEntry{name: "docs/", body: ""},
		zipEntry{name: "docs/b.pdf", body: "B"},
	)

	dir, err := ExtractFile(context.Background(), archivePath, base, Limits{})
	require.NoError(t, err)
	assert.Equal(t, base, filepath.Dir(dir))

	got, err := os.ReadFile(filepath.Join(dir, "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))

	got, err = os.ReadFile(filepath.Join(dir, "docs", "b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(got))
}

func TestExtractFileCreatesFreshDirectoryEachCall(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	archivePath := writeZip(t, src, zipEntry{name: "a.pdf", body: "A"})

	first, err := ExtractFile(context.Background(), archivePath, base, Limits{})
	require.NoError(t, err)
	second, err := ExtractFile(context.Background(), archivePath, base, Limits{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestExtractFileRejectsNonZip(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	path := filepath.Join(src, "upload.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip archive at all"), 0o640))

	_, err := ExtractFile(context.Background(), path, base, Limits{})
	require.ErrorIs(t, err, ErrInvalidArchive)

	leftovers, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExtractFileRejectsTruncatedZip(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	archivePath := writeZip(t, src, zipEntry{name: "a.pdf", body: "hello world"})

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(archivePath, data[:len(data)-10], 0o640))

	_, err = ExtractFile(context.Background(), archivePath, base, Limits{})
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestExtractFileRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.pdf", "a/../../evil.pdf", "/etc/evil.pdf", `C:\evil.pdf`} {
		t.Run(name, func(t *testing.T) {
			src := t.TempDir()
			base := t.TempDir()
			archivePath := writeZip(t, src, zipEntry{name: name, body: "x"})

			_, err := ExtractFile(context.Background(), archivePath, base, Limits{})
			require.ErrorIs(t, err, ErrUnsafePath)

			leftovers, err := os.ReadDir(base)
			require.NoError(t, err)
			assert.Empty(t, leftovers, "failed extraction must not leave a directory behind")
		})
	}
}

func TestExtractFileEnforcesLimits(t *testing.T) {
	src := t.TempDir()
	archivePath := writeZip(t, src,
		zipEntry{name: "a.pdf", body: "0123456789"},
		zipEntry{name: "b.pdf", body: "0123456789"},
	)

	_, err := ExtractFile(context.Background(), archivePath, t.TempDir(), Limits{MaxEntries: 1})
	require.ErrorIs(t, err, ErrTooManyEntries)

	_, err = ExtractFile(context.Background(), archivePath, t.TempDir(), Limits{MaxTotalBytes: 15})
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = ExtractFile(context.Background(), archivePath, t.TempDir(), Limits{MaxEntries: 2, MaxTotalBytes: 20})
	require.NoError(t, err)
}

func TestExtractFileHonoursCancellation(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	archivePath := writeZip(t, src, zipEntry{name: "a.pdf", body: "A"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExtractFile(ctx, archivePath, base, Limits{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractFileDecodesLegacyNames(t *testing.T) {
	src := t.TempDir()
	base := t.TempDir()
	legacy := string([]byte{0x82, 't', 'u', 'd', 'e', '.', 'p', 'd', 'f'})
	archivePath := writeZip(t, src, zipEntry{name: legacy, body: "x", nonUTF8: true})

	dir, err := ExtractFile(context.Background(), archivePath, base, Limits{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "étude.pdf"))
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	src := t.TempDir()
	archivePath := writeZip(t, src,
		zipEntry{name: "b.pdf", body: "BB"},
		zipEntry{name: "sub/", body: ""},
		zipEntry{name: "a.xlsx", body: "A"},
	)

	entries, err := List(archivePath)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Name: "b.pdf", Size: 2}, entries[0])
	assert.True(t, entries[1].Dir)
	assert.Equal(t, "a.xlsx", entries[2].Name)

	bogus := filepath.Join(src, "bogus.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("nope"), 0o640))
	_, err = List(bogus)
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestSniffAcceptsZipContainers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())

	require.NoError(t, Sniff(bytes.NewReader(buf.Bytes())))
	require.ErrorIs(t, Sniff(bytes.NewReader([]byte("%PDF-1.4\n"))), ErrInvalidArchive)
}
