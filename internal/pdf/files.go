package pdf

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	pdfSuffix         = ".pdf"
	spreadsheetSuffix = ".xlsx"
)

// fileGroups は展開ディレクトリ内のファイルを拡張子で振り分けた結果です。
// 並びはディレクトリの列挙順で、意味は持ちません。
type fileGroups struct {
	pdfs         []string
	spreadsheets []string
}

// partitionFiles は展開ディレクトリを列挙し、.pdf と .xlsx のファイルに振り分けます。
// 拡張子は大文字小文字を区別します。nested が false の場合は直下のみ対象です。
func partitionFiles(dir string, nested bool) (fileGroups, error) {
	var groups fileGroups
	add := func(path string) {
		name := filepath.Base(path)
		switch {
		case strings.HasSuffix(name, pdfSuffix):
			groups.pdfs = append(groups.pdfs, path)
		case strings.HasSuffix(name, spreadsheetSuffix):
			groups.spreadsheets = append(groups.spreadsheets, path)
		}
	}

	if !nested {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return groups, fmt.Errorf("展開ディレクトリの列挙に失敗しました: %w", err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				add(filepath.Join(dir, entry.Name()))
			}
		}
		return groups, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			add(path)
		}
		return nil
	})
	if err != nil {
		return groups, fmt.Errorf("展開ディレクトリの列挙に失敗しました: %w", err)
	}
	return groups, nil
}

// archiveRelName は展開ディレクトリからの相対パスをスラッシュ区切りで返します。
func archiveRelName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
