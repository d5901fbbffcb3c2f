package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/archive"
	"github.com/yourusername/zip-merge/internal/workbook"
)

const (
	noticeSheetsPrefix = "גיליונות שנמצאו באקסל:"
	noticeOmitted      = "עובדו רק %d הקבצים הראשונים מתוך %d."
)

// ProcessState は「このアップロードは処理済みか」を呼び出し側が明示的に渡すための値です。
// UploadID はアップロード内容のハッシュ、HandledUploadID はセッションで最後に処理したハッシュです。
type ProcessState struct {
	UploadID        string
	HandledUploadID string
}

// AlreadyHandled は同じアップロードを既に処理済みかを返します。
func (s ProcessState) AlreadyHandled() bool {
	return s.UploadID != "" && s.UploadID == s.HandledUploadID
}

// ProcessStatus は処理結果の種別です。
type ProcessStatus string

const (
	ProcessMerged         ProcessStatus = "merged"
	ProcessAlreadyHandled ProcessStatus = "already_handled"
)

// ProcessOutcome はアップロード処理の結果です。
type ProcessOutcome struct {
	Status      ProcessStatus
	UploadID    string
	Document    *bytes.Buffer
	TotalPages  int
	Sources     []SourceFileMeta
	Omitted     []string
	Spreadsheet string
	SheetNames  []string
	Notices     []string
}

// ProcessArchive はアップロードZIPを展開し、PDFを結合して返します。
//
// upload が nil の場合は結果もエラーも返しません。state が処理済みを示す場合は
// 展開も結合も行わず ProcessAlreadyHandled を返します。PDFが見つからない場合は
// ErrNoPDFs と共に、それまでに得た通知（シート名など）を含む結果を返します。
// 展開ディレクトリは成功・失敗にかかわらず削除します。
func (s *Service) ProcessArchive(ctx context.Context, upload *Upload, state ProcessState, progress ProgressReporter) (*ProcessOutcome, error) {
	return s.processArchive(ctx, upload, state, s.mergeOptions(), progress)
}

func (s *Service) processArchive(ctx context.Context, upload *Upload, state ProcessState, opts MergeOptions, progress ProgressReporter) (*ProcessOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if upload == nil {
		return nil, nil
	}
	if state.UploadID == "" {
		state.UploadID = upload.Digest
	}
	if state.AlreadyHandled() {
		return &ProcessOutcome{Status: ProcessAlreadyHandled, UploadID: state.UploadID}, nil
	}

	logger := s.logger.WithFields(logrus.Fields{"upload": upload.Name, "digest": shortDigest(upload.Digest)})

	progress.report(StageExtract, 10)
	dir, err := archive.ExtractFile(ctx, upload.Path, s.store.Root(), s.extractLimits())
	if err != nil {
		return nil, classifyArchiveError(err)
	}
	defer func() {
		if err := removeDir(dir); err != nil {
			logger.WithError(err).Warn("failed to remove extraction directory")
		}
	}()

	progress.report(StageScan, 30)
	groups, err := partitionFiles(dir, s.cfg.ScanNested)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"pdfs":         len(groups.pdfs),
		"spreadsheets": len(groups.spreadsheets),
	}).Debug("archive extracted")

	outcome := &ProcessOutcome{
		Status:   ProcessMerged,
		UploadID: state.UploadID,
	}

	if len(groups.spreadsheets) > 0 {
		first := groups.spreadsheets[0]
		names, err := workbook.SheetNames(first)
		if err != nil {
			return nil, newError(CodeUnreadableSpreadsheet, msgSpreadsheet, err)
		}
		outcome.Spreadsheet = archiveRelName(dir, first)
		outcome.SheetNames = names
		outcome.Notices = append(outcome.Notices, noticeSheetsPrefix+" "+strings.Join(names, ", "))
	}

	if len(groups.pdfs) == 0 {
		noPDFs := newError(CodeNoPDFs, msgNoPDFs, nil)
		noPDFs.Notices = outcome.Notices
		return outcome, noPDFs
	}

	if opts.Order == SortArchive {
		opts.ArchiveOrder, err = archiveOrder(upload.Path, dir)
		if err != nil {
			return nil, classifyArchiveError(err)
		}
	}

	progress.report(StageMerge, 50)
	merged, err := MergeFiles(ctx, groups.pdfs, opts)
	if err != nil {
		return nil, err
	}
	progress.report(StageMerge, 80)

	sources := make([]SourceFileMeta, 0, len(merged.Selected))
	for _, p := range merged.Selected {
		meta := SourceFileMeta{Name: archiveRelName(dir, p)}
		if info, statErr := os.Stat(p); statErr == nil {
			meta.Size = info.Size()
		}
		sources = append(sources, meta)
	}
	omitted := make([]string, len(merged.Omitted))
	for i, p := range merged.Omitted {
		omitted[i] = archiveRelName(dir, p)
	}
	if len(omitted) > 0 {
		total := len(merged.Selected) + len(omitted)
		outcome.Notices = append(outcome.Notices, fmt.Sprintf(noticeOmitted, len(merged.Selected), total))
		logger.WithFields(logrus.Fields{"selected": len(merged.Selected), "omitted": len(omitted)}).Info("merge input capped")
	}

	outcome.Document = merged.Document
	outcome.TotalPages = merged.TotalPages
	outcome.Sources = sources
	outcome.Omitted = omitted
	return outcome, nil
}

// archiveOrder はZIP内の格納順を展開先のパスに変換して返します。
func archiveOrder(archivePath, dir string) ([]string, error) {
	entries, err := archive.List(archivePath)
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Dir {
			continue
		}
		clean := path.Clean(strings.ReplaceAll(e.Name, `\`, "/"))
		order = append(order, filepath.Join(dir, filepath.FromSlash(clean)))
	}
	return order, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
