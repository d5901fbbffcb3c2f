package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/zip-merge/internal/archive"
)

// エラーコード
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeInvalidArchive        = "INVALID_ARCHIVE"
	CodeNoPDFs                = "NO_PDF_FOUND"
	CodeMergeFailed           = "MERGE_FAILED"
	CodeUnreadableSpreadsheet = "SPREADSHEET_UNREADABLE"
	CodeLimitExceeded         = "LIMIT_EXCEEDED"
)

// ユーザー向けメッセージ（ヘブライ語）
const (
	msgNoUpload           = "יש לבחור קובץ ZIP להעלאה."
	msgInvalidArchive     = "הקובץ שהועלה אינו ארכיון ZIP תקין."
	msgNoPDFs             = "לא נמצאו קובצי PDF בארכיון."
	msgMergeFailed        = "איחוד קובצי ה-PDF נכשל. ייתכן שאחד הקבצים פגום או מוגן בסיסמה."
	msgSpreadsheet        = "קריאת קובץ האקסל נכשלה."
	msgUploadTooLarge     = "הקובץ חורג מגודל ההעלאה המרבי (%s)."
	msgArchiveTooLarge    = "תוכן הארכיון גדול מדי לעיבוד."
	msgArchiveTooManyEnts = "הארכיון מכיל יותר מדי קבצים."
)

// Error はクライアントに返すエラーコードとメッセージを保持します。
// Notices には失敗までに得られた利用者向けの通知（シート名など）が入ります。
type Error struct {
	Code    string
	Message string
	Notices []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致すれば同種のエラーとみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// errors.Is で判別するための番兵です。
var (
	ErrInvalidInput          = &Error{Code: CodeInvalidInput}
	ErrInvalidArchive        = &Error{Code: CodeInvalidArchive}
	ErrNoPDFs                = &Error{Code: CodeNoPDFs}
	ErrMergeFailed           = &Error{Code: CodeMergeFailed}
	ErrUnreadableSpreadsheet = &Error{Code: CodeUnreadableSpreadsheet}
	ErrLimitExceeded         = &Error{Code: CodeLimitExceeded}
)

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// classifyArchiveError は展開処理のエラーをAPIエラーへ変換します。
func classifyArchiveError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, archive.ErrInvalidArchive), errors.Is(err, archive.ErrUnsafePath):
		return newError(CodeInvalidArchive, msgInvalidArchive, err)
	case errors.Is(err, archive.ErrTooLarge):
		return newError(CodeLimitExceeded, msgArchiveTooLarge, err)
	case errors.Is(err, archive.ErrTooManyEntries):
		return newError(CodeLimitExceeded, msgArchiveTooManyEnts, err)
	default:
		return fmt.Errorf("アーカイブの展開に失敗しました: %w", err)
	}
}
