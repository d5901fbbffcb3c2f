package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/zip-merge/internal/config"
)

const outputFilename = "merged.pdf"

// SortOrder は結合順の決め方です。
type SortOrder string

const (
	// SortLexical はパスのバイト順（辞書順）です。
	SortLexical SortOrder = "lexical"
	// SortArchive はZIP内の格納順です。ArchiveOrder にない項目は辞書順で末尾に並べます。
	SortArchive SortOrder = "archive"
)

// MergeOptions は結合対象の選び方を指定します。
type MergeOptions struct {
	MaxFiles     int
	Order        SortOrder
	ArchiveOrder []string
}

// MergeOutput は結合結果です。Document は先頭から読み出せる状態で返します。
type MergeOutput struct {
	Document   *bytes.Buffer
	Selected   []string
	Omitted    []string
	TotalPages int
}

// MergeFiles は paths を並べ替えて先頭 MaxFiles 件に絞り、ページを順に連結したPDFを
// メモリ上に生成します。1件でも読めないPDFがあれば結合全体を中止します。
func MergeFiles(ctx context.Context, paths []string, opts MergeOptions) (*MergeOutput, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(paths) == 0 {
		return nil, newError(CodeNoPDFs, msgNoPDFs, nil)
	}

	selected, omitted := selectInputs(paths, opts)

	readers := make([]io.ReadSeeker, 0, len(selected))
	defer func() {
		for _, r := range readers {
			if f, ok := r.(*os.File); ok {
				_ = f.Close()
			}
		}
	}()
	for _, path := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, newError(CodeMergeFailed, msgMergeFailed, fmt.Errorf("%s: %w", path, err))
		}
		readers = append(readers, f)
	}

	conf := newPDFConfig()
	var out bytes.Buffer
	if err := pdfapi.MergeRaw(readers, &out, false, conf); err != nil {
		return nil, newError(CodeMergeFailed, msgMergeFailed, err)
	}

	pages, err := pdfapi.PageCount(bytes.NewReader(out.Bytes()), newPDFConfig())
	if err != nil {
		return nil, newError(CodeMergeFailed, msgMergeFailed, fmt.Errorf("結合結果のページ数取得に失敗しました: %w", err))
	}

	return &MergeOutput{
		Document:   &out,
		Selected:   selected,
		Omitted:    omitted,
		TotalPages: pages,
	}, nil
}

// selectInputs は結合順に並べた上で上限件数に切り詰めます。上限は必ず適用されます。
func selectInputs(paths []string, opts MergeOptions) (selected, omitted []string) {
	sorted := append([]string(nil), paths...)

	switch opts.Order {
	case SortArchive:
		rank := make(map[string]int, len(opts.ArchiveOrder))
		for i, p := range opts.ArchiveOrder {
			if _, ok := rank[p]; !ok {
				rank[p] = i
			}
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			ri, iok := rank[sorted[i]]
			rj, jok := rank[sorted[j]]
			switch {
			case iok && jok:
				return ri < rj
			case iok != jok:
				return iok
			default:
				return sorted[i] < sorted[j]
			}
		})
	default:
		sort.Strings(sorted)
	}

	limit := opts.MaxFiles
	if limit <= 0 {
		limit = config.DefaultMaxMergeFiles
	}
	if len(sorted) <= limit {
		return sorted, nil
	}
	return sorted[:limit], sorted[limit:]
}

func newPDFConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
