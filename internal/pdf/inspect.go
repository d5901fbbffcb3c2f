package pdf

import (
	"context"
	"mime/multipart"

	"github.com/yourusername/zip-merge/internal/archive"
	"github.com/yourusername/zip-merge/internal/workbook"
)

// InspectResult はアップロードZIPの内容と、結合した場合に使われるPDFを表します。
type InspectResult struct {
	Source      SourceFileMeta `json:"source"`
	UploadID    string         `json:"uploadId"`
	Entries     int            `json:"entries"`
	PDFs        []string       `json:"pdfs"`
	Selected    []string       `json:"selected"`
	Omitted     []string       `json:"omitted,omitempty"`
	Spreadsheet string         `json:"spreadsheet,omitempty"`
	SheetNames  []string       `json:"sheetNames,omitempty"`
}

// InspectMultipart はZIPを展開して振り分けまで行い、結合はせずに内容を返します。
func (s *Service) InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error) {
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
	defer func() {
		_ = s.DiscardJob(ws.jobID)
	}()

	upload, err := s.storeMultipartFile(ctx, file, ws.inDir)
	if err != nil {
		return nil, err
	}

	dir, err := archive.ExtractFile(ctx, upload.Path, ws.dir, s.extractLimits())
	if err != nil {
		return nil, classifyArchiveError(err)
	}

	groups, err := partitionFiles(dir, s.cfg.ScanNested)
	if err != nil {
		return nil, err
	}

	result := &InspectResult{
		Source:   SourceFileMeta{Name: upload.Name, Size: upload.Size},
		UploadID: upload.Digest,
		Entries:  upload.Entries,
	}

	if len(groups.spreadsheets) > 0 {
		names, err := workbook.SheetNames(groups.spreadsheets[0])
		if err != nil {
			return nil, newError(CodeUnreadableSpreadsheet, msgSpreadsheet, err)
		}
		result.Spreadsheet = archiveRelName(dir, groups.spreadsheets[0])
		result.SheetNames = names
	}

	opts := s.mergeOptions()
	if opts.Order == SortArchive {
		if opts.ArchiveOrder, err = archiveOrder(upload.Path, dir); err != nil {
			return nil, classifyArchiveError(err)
		}
	}
	selected, omitted := selectInputs(groups.pdfs, opts)

	result.PDFs = relNames(dir, groups.pdfs)
	result.Selected = relNames(dir, selected)
	result.Omitted = relNames(dir, omitted)
	return result, nil
}

func relNames(dir string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = archiveRelName(dir, p)
	}
	return names
}
