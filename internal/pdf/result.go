package pdf

import (
	"sync"
)

// OperationType はジョブの処理種別を表します。
type OperationType string

const (
	OperationArchiveMerge OperationType = "archive-merge"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
)

// Result はジョブの成果物を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           *MergeMeta    `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// SourceFileMeta は結合に使ったファイルの情報です。Name はアーカイブ内の相対パスです。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages,omitempty"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	Upload      SourceFileMeta   `json:"upload"`
	UploadID    string           `json:"uploadId"`
	TotalPages  int              `json:"totalPages"`
	Sources     []SourceFileMeta `json:"sources"`
	Omitted     []string         `json:"omitted,omitempty"`
	Spreadsheet string           `json:"spreadsheet,omitempty"`
	SheetNames  []string         `json:"sheetNames,omitempty"`
	Notices     []string         `json:"notices,omitempty"`
	CreatedAt   string           `json:"createdAt"`
}
