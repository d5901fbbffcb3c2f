// Package archive はアップロードされたZIPアーカイブの検査と展開を提供します。
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/charmap"
)

var (
	ErrInvalidArchive = errors.New("archive: not a valid zip file")
	ErrUnsafePath     = errors.New("archive: entry path escapes destination")
	ErrTooManyEntries = errors.New("archive: too many entries")
	ErrTooLarge       = errors.New("archive: extracted size exceeds limit")
)

const zipMIME = "application/zip"

// Limits は展開時の上限です。0以下の値は無制限を意味します。
type Limits struct {
	MaxEntries    int
	MaxTotalBytes int64
}

// Entry はアーカイブ内の1エントリを表します。
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir"`
}

// Sniff は先頭バイトからZIP系のファイルかどうかを判定します。
// xlsx や docx などZIPコンテナ形式も受け付けます。
func Sniff(r io.Reader) error {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return nil
		}
	}
	return fmt.Errorf("%w: detected %s", ErrInvalidArchive, mt.String())
}

// List はセントラルディレクトリだけを読み、エントリ一覧を返します。
func List(archivePath string) ([]Entry, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer rc.Close()

	entries := make([]Entry, 0, len(rc.File))
	for _, f := range rc.File {
		entries = append(entries, Entry{
			Name: entryName(f),
			Size: int64(f.UncompressedSize64),
			Dir:  f.FileInfo().IsDir(),
		})
	}
	return entries, nil
}

// ExtractFile は archivePath のZIPを baseDir 配下に新規作成した一時ディレクトリへ展開し、
// そのパスを返します。ディレクトリの削除は呼び出し側の責任です。
// 失敗時は途中まで展開したディレクトリを削除してから返します。
func ExtractFile(ctx context.Context, archivePath, baseDir string, limits Limits) (dir string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("アーカイブのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	if err := Sniff(file); err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("アーカイブの読み直しに失敗しました: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("アーカイブの情報取得に失敗しました: %w", err)
	}

	zr, err := zip.NewReader(file, info.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return "", fmt.Errorf("展開先ディレクトリの作成に失敗しました: %w", err)
	}
	dir, err = os.MkdirTemp(baseDir, "extract-*")
	if err != nil {
		return "", fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
			dir = ""
		}
	}()

	if _, err = Extract(ctx, zr, dir, limits); err != nil {
		return "", err
	}
	return dir, nil
}

// Extract は zr の全エントリを destDir に元の相対パスのまま書き出し、
// 書き出したファイル数を返します。シンボリックリンクなど通常ファイル以外は無視します。
func Extract(ctx context.Context, zr *zip.Reader, destDir string, limits Limits) (int, error) {
	if limits.MaxEntries > 0 && len(zr.File) > limits.MaxEntries {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyEntries, len(zr.File), limits.MaxEntries)
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return 0, fmt.Errorf("展開先パスの解決に失敗しました: %w", err)
	}

	var (
		written int
		total   int64
	)
	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		name := entryName(f)
		rel, err := safeRelPath(name)
		if err != nil {
			return written, err
		}
		if rel == "" {
			continue
		}

		target := filepath.Join(absDest, rel)
		if !strings.HasPrefix(target, absDest+string(filepath.Separator)) {
			return written, fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return written, fmt.Errorf("ディレクトリの作成に失敗しました: %w", err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return written, fmt.Errorf("ディレクトリの作成に失敗しました: %w", err)
		}

		remaining := int64(-1)
		if limits.MaxTotalBytes > 0 {
			remaining = limits.MaxTotalBytes - total
		}
		n, err := extractEntry(f, target, remaining)
		total += n
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractEntry(f *zip.File, target string, remaining int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("展開ファイルの作成に失敗しました: %w", err)
	}
	defer out.Close()

	var src io.Reader = rc
	if remaining >= 0 {
		src = io.LimitReader(rc, remaining+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		if isCorruptData(err) {
			return n, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
		}
		return n, fmt.Errorf("展開ファイルの書き込みに失敗しました: %w", err)
	}
	if remaining >= 0 && n > remaining {
		return n, ErrTooLarge
	}
	return n, nil
}

func isCorruptData(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &corrupt)
}

// entryName はUTF-8でないエントリ名を CP437 として解釈します。
func entryName(f *zip.File) string {
	if !f.NonUTF8 || utf8.ValidString(f.Name) {
		return f.Name
	}
	decoded, err := charmap.CodePage437.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}
	return decoded
}

func safeRelPath(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || hasDriveLetter(slashed) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	clean := path.Clean(slashed)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.FromSlash(clean), nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
