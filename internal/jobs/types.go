package jobs

import (
	"time"

	"github.com/yourusername/zip-merge/internal/pdf"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// 進捗ステージ。extract 以降は pdf.Service が報告します。
const (
	StageQueued    = "queued"
	StageLoad      = "load"
	StageCompleted = pdf.StageCompleted
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。Message は利用者向けです。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。Meta には完了時の pdf.MergeMeta が入ります。
type Record struct {
	JobID       string       `json:"jobId"`
	Operation   string       `json:"operation"`
	Status      Status       `json:"status"`
	Progress    ProgressInfo `json:"progress"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Meta        any          `json:"meta,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// Done はジョブが終了状態かを返します。
func (r *Record) Done() bool {
	return r != nil && (r.Status == StatusSucceeded || r.Status == StatusFailed)
}
