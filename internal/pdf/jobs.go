package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"
)

// PrepareMergeJob はアップロードをワークスペースに保存し、マニフェストを書き出します。
// 返されたマニフェストの Files[0].Digest で処理済み判定ができます。
func (s *Service) PrepareMergeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError(CodeInvalidInput, msgNoUpload, nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	upload, err := s.storeMultipartFile(ctx, file, ws.inDir)
	if err != nil {
		_ = s.DiscardJob(ws.jobID)
		return nil, err
	}

	opts := s.mergeOptions()
	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationArchiveMerge,
		Files:     []JobFile{toJobFile(upload)},
		MaxFiles:  opts.MaxFiles,
		Order:     opts.Order,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		_ = s.DiscardJob(ws.jobID)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	// 非同期ジョブが取り出されなかった場合も期限で回収する
	s.scheduleExpiry(ws)
	return manifest, nil
}

// RunJob はジョブIDに対応する結合処理を実行し、成果物を out/merged.pdf に書き出します。
// 失敗時はワークスペースを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, err
	}
	manifest, err := loadManifest(ws)
	if err != nil {
		_ = s.DiscardJob(jobID)
		return nil, err
	}
	if manifest.Operation != OperationArchiveMerge {
		_ = s.DiscardJob(jobID)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	upload := uploadFromManifest(ws, manifest)
	if upload == nil {
		_ = s.DiscardJob(jobID)
		return nil, fmt.Errorf("manifest has no input files")
	}

	result, runErr := s.executeMerge(ctx, ws, manifest, upload, reporter)
	if runErr != nil {
		if cleanupErr := s.DiscardJob(jobID); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}
	return result, nil
}

func (s *Service) executeMerge(ctx context.Context, ws workspace, manifest *JobManifest, upload *Upload, progress ProgressReporter) (*Result, error) {
	opts := MergeOptions{MaxFiles: manifest.MaxFiles, Order: manifest.Order}
	if opts.Order == "" {
		opts.Order = SortLexical
	}

	outcome, err := s.processArchive(ctx, upload, ProcessState{UploadID: upload.Digest}, opts, progress)
	if err != nil {
		return nil, err
	}
	if outcome == nil || outcome.Document == nil {
		return nil, errors.New("merge produced no document")
	}

	progress.report(StageWrite, 90)
	outputPath := filepath.Join(ws.outDir, outputFilename)
	size := int64(outcome.Document.Len())
	if err := os.WriteFile(outputPath, outcome.Document.Bytes(), 0o640); err != nil {
		return nil, fmt.Errorf("結合結果の保存に失敗しました: %w", err)
	}

	meta := &MergeMeta{
		Upload:      SourceFileMeta{Name: upload.Name, Size: upload.Size},
		UploadID:    outcome.UploadID,
		TotalPages:  outcome.TotalPages,
		Sources:     outcome.Sources,
		Omitted:     outcome.Omitted,
		Spreadsheet: outcome.Spreadsheet,
		SheetNames:  outcome.SheetNames,
		Notices:     outcome.Notices,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if err := writeJSON(ws.metaPath(), meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	// 入力ZIPは不要になったので成果物だけ残す
	if err := removeDir(ws.inDir); err != nil {
		s.logger.WithError(err).WithField("job_id", ws.jobID).Warn("failed to remove job input")
	}
	s.scheduleExpiry(ws)

	progress.report(StageCompleted, 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationArchiveMerge,
		OutputPath:     outputPath,
		OutputFilename: outputFilename,
		OutputSize:     size,
		ResultKind:     ResultKindPDF,
		Meta:           meta,
		jobDir:         ws.dir,
	}, nil
}
