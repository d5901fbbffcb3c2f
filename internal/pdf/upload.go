package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/yourusername/zip-merge/internal/archive"
)

const uploadFilename = "upload.zip"

// Upload はディスク上に保存されたアップロードZIPを表します。
// Digest は内容の SHA-256 で、同一アップロードの判定に使います。
type Upload struct {
	Path    string
	Name    string
	Size    int64
	Digest  string
	Entries int
}

// LoadUpload は既存のファイルから Upload を作成します（CLIやジョブ再実行用）。
func LoadUpload(path, name string) (*Upload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return &Upload{
		Path:   path,
		Name:   name,
		Size:   size,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// storeMultipartFile はアップロードを dir に保存し、サイズ上限とZIP形式を検証します。
func (s *Service) storeMultipartFile(ctx context.Context, fh *multipart.FileHeader, dir string) (*Upload, error) {
	if fh == nil {
		return nil, newError(CodeInvalidInput, msgNoUpload, nil)
	}
	maxSize := s.cfg.MaxUploadSize
	if maxSize > 0 && fh.Size > maxSize {
		return nil, newError(CodeLimitExceeded, fmt.Sprintf(msgUploadTooLarge, humanize.Bytes(uint64(maxSize))), nil)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, uploadFilename)
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}

	hasher := sha256.New()
	var reader io.Reader = src
	if maxSize > 0 {
		reader = io.LimitReader(src, maxSize+1)
	}
	size, copyErr := io.Copy(io.MultiWriter(out, hasher), reader)
	closeErr := out.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", closeErr)
	}
	if maxSize > 0 && size > maxSize {
		return nil, newError(CodeLimitExceeded, fmt.Sprintf(msgUploadTooLarge, humanize.Bytes(uint64(maxSize))), nil)
	}

	entries, err := archive.List(path)
	if err != nil {
		return nil, classifyArchiveError(err)
	}

	return &Upload{
		Path:    path,
		Name:    filepath.Base(fh.Filename),
		Size:    size,
		Digest:  hex.EncodeToString(hasher.Sum(nil)),
		Entries: len(entries),
	}, nil
}
