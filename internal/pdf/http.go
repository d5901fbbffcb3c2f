package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error)
	DiscardJob(jobID string) error
}

// MergeService はZIP結合ジョブの準備と実行を提供します。
type MergeService interface {
	JobRunner
	PrepareMergeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
}

// InspectService はZIPの内容確認を提供します。
type InspectService interface {
	InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error)
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler             JobScheduler
	AsyncThresholdBytes   int64
	AsyncThresholdEntries int
}

// MergeHandler は POST /api/archive/merge のハンドラーを返します。
func MergeHandler(svc MergeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "יש לשלוח את הקובץ כ-multipart/form-data.")
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			respondInvalidInput(c, err.Error())
			return
		}

		manifest, err := svc.PrepareMergeJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if shouldProcessAsync(manifest, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.Operation, manifest.JobID); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		if err := streamResult(c, result); err != nil {
			respondWithError(c, err)
		}
	}
}

// InspectHandler は POST /api/archive/inspect のハンドラーを返します。
func InspectHandler(svc InspectService) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			respondInvalidInput(c, "יש לשלוח את הקובץ כ-multipart/form-data.")
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			respondInvalidInput(c, err.Error())
			return
		}

		result, err := svc.InspectMultipart(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}

	if opts.AsyncThresholdBytes > 0 {
		var total int64
		for _, f := range manifest.Files {
			total += f.Size
		}
		if total > opts.AsyncThresholdBytes {
			return true
		}
	}

	if opts.AsyncThresholdEntries > 0 {
		var total int
		for _, f := range manifest.Files {
			total += f.Entries
		}
		if total > opts.AsyncThresholdEntries {
			return true
		}
	}

	return false
}

// StatusFor はエラーに対応するHTTPステータスを返します。
func StatusFor(err error) int {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case CodeLimitExceeded:
			return http.StatusRequestEntityTooLarge
		case CodeNoPDFs, CodeMergeFailed, CodeUnreadableSpreadsheet:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadRequest
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage はエラーに対応する利用者向けメッセージを返します。
func UserMessage(err error) string {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "הבקשה בוטלה."
	default:
		return "אירעה שגיאה פנימית בשרת."
	}
}

func respondWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	code := "INTERNAL_ERROR"
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case status == http.StatusRequestTimeout:
		code = "REQUEST_CANCELED"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	body := gin.H{
		"code":    code,
		"message": UserMessage(err),
	}
	if apiErr != nil && len(apiErr.Notices) > 0 {
		body["notices"] = apiErr.Notices
	}
	c.JSON(status, body)
}

func respondInvalidInput(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    CodeInvalidInput,
		"message": message,
	})
}

// extractSingleFile はフォームからZIPファイルを1件取り出します。
func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New(msgNoUpload)
	}
	for _, field := range []string{"file", "archive", "file[]"} {
		if files := form.File[field]; len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, errors.New(msgNoUpload)
}

func streamResult(c *gin.Context, result *Result) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("結合結果の読み込みに失敗しました: %w", err)
	}
	defer file.Close()

	ServeFile(c, result, file)
	return nil
}

// ServeFile は成果物をダウンロードとしてレスポンスに書き出します。
func ServeFile(c *gin.Context, result *Result, file *os.File) {
	contentType := "application/octet-stream"
	if result.ResultKind == ResultKindPDF {
		contentType = "application/pdf"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
}
