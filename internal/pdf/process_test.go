package pdf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadFromBytes(t *testing.T, data []byte) *Upload {
	t.Helper()
	path := writeFile(t, t.TempDir(), "upload.zip", data)
	upload, err := LoadUpload(path, "upload.zip")
	require.NoError(t, err)
	return upload
}

func TestProcessArchiveMergesAndReportsSheets(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"b.pdf", pdfWithWidths(t, 200)},
		zipEntry{"a.pdf", pdfWithWidths(t, 100, 150)},
		zipEntry{"notes.txt", []byte("ignored")},
		zipEntry{"data.xlsx", workbookBytes(t, "Sheet1", "Sheet2")},
	))

	var stages []string
	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, func(stage string, _ int) {
		stages = append(stages, stage)
	})
	require.NoError(t, err)

	assert.Equal(t, ProcessMerged, outcome.Status)
	assert.Equal(t, upload.Digest, outcome.UploadID)
	assert.Equal(t, 3, outcome.TotalPages)
	assert.Equal(t, []int{100, 150, 200}, pageWidths(t, outcome.Document.Bytes()))
	assert.Equal(t, "data.xlsx", outcome.Spreadsheet)
	assert.Equal(t, []string{"Sheet1", "Sheet2"}, outcome.SheetNames)
	require.Len(t, outcome.Notices, 1)
	assert.Contains(t, outcome.Notices[0], "Sheet1, Sheet2")
	require.Len(t, outcome.Sources, 2)
	assert.Equal(t, "a.pdf", outcome.Sources[0].Name)
	assert.Contains(t, stages, "extract")
	assert.Contains(t, stages, "merge")

	assert.Empty(t, extractDirs(t, svc))
}

func TestProcessArchiveIgnoresNestedByDefault(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"top.pdf", pdfWithWidths(t, 100)},
		zipEntry{"sub/inner.pdf", pdfWithWidths(t, 200)},
		zipEntry{"upper.PDF", pdfWithWidths(t, 300)},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.TotalPages)
	assert.Equal(t, []int{100}, pageWidths(t, outcome.Document.Bytes()))
}

func TestProcessArchiveScanNested(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScanNested = true
	svc := newTestService(t, cfg)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"top.pdf", pdfWithWidths(t, 100)},
		zipEntry{"sub/inner.pdf", pdfWithWidths(t, 200)},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 100}, pageWidths(t, outcome.Document.Bytes()))
	assert.Equal(t, "sub/inner.pdf", outcome.Sources[0].Name)
}

func TestProcessArchiveArchiveOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.MergeOrder = "archive"
	svc := newTestService(t, cfg)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"z.pdf", pdfWithWidths(t, 300)},
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 100}, pageWidths(t, outcome.Document.Bytes()))
}

func TestProcessArchiveNoPDFs(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"readme.txt", []byte("hello")},
		zipEntry{"data.xlsx", workbookBytes(t, "גיליון")},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.ErrorIs(t, err, ErrNoPDFs)
	require.NotNil(t, outcome)
	assert.Nil(t, outcome.Document)
	assert.Equal(t, []string{"גיליון"}, outcome.SheetNames)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, outcome.Notices, apiErr.Notices)
	assert.Empty(t, extractDirs(t, svc))
}

func TestProcessArchiveInvalidArchive(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, []byte("definitely not a zip"))

	_, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.ErrorIs(t, err, ErrInvalidArchive)
	assert.Equal(t, msgInvalidArchive, UserMessage(err))
	assert.Empty(t, extractDirs(t, svc))
}

func TestProcessArchiveUnreadableSpreadsheet(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
		zipEntry{"broken.xlsx", []byte("not a workbook")},
	))

	_, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.ErrorIs(t, err, ErrUnreadableSpreadsheet)
	assert.Empty(t, extractDirs(t, svc))
}

func TestProcessArchiveOnlyFirstSpreadsheet(t *testing.T) {
	svc := newTestService(t, nil)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
		zipEntry{"first.xlsx", workbookBytes(t, "One")},
		zipEntry{"second.xlsx", workbookBytes(t, "Two")},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.NoError(t, err)
	require.Len(t, outcome.SheetNames, 1)
	assert.Contains(t, []string{"One", "Two"}, outcome.SheetNames[0])
}

func TestProcessArchiveAlreadyHandled(t *testing.T) {
	svc := newTestService(t, nil)
	// 壊れた入力でもエラーにならないことで、展開が行われていないことを確認する
	upload := uploadFromBytes(t, []byte("not a zip"))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{HandledUploadID: upload.Digest}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProcessAlreadyHandled, outcome.Status)
	assert.Nil(t, outcome.Document)
}

func TestProcessArchiveNilUpload(t *testing.T) {
	svc := newTestService(t, nil)
	outcome, err := svc.ProcessArchive(context.Background(), nil, ProcessState{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestProcessArchiveOmittedNotice(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMergeFiles = 2
	svc := newTestService(t, cfg)
	upload := uploadFromBytes(t, zipBytes(t,
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
		zipEntry{"b.pdf", pdfWithWidths(t, 110)},
		zipEntry{"c.pdf", pdfWithWidths(t, 120)},
	))

	outcome, err := svc.ProcessArchive(context.Background(), upload, ProcessState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.pdf"}, outcome.Omitted)
	require.Len(t, outcome.Notices, 1)
	assert.True(t, strings.Contains(outcome.Notices[0], "2"))
}

func TestPrepareAndRunJob(t *testing.T) {
	svc := newTestService(t, nil)
	data := zipBytes(t,
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
		zipEntry{"data.xlsx", workbookBytes(t, "Sheet1")},
	)

	manifest, err := svc.PrepareMergeJob(context.Background(), fileHeader(t, "file", "docs.zip", data))
	require.NoError(t, err)
	require.Len(t, manifest.Files, 1)
	assert.Equal(t, OperationArchiveMerge, manifest.Operation)
	assert.Equal(t, "docs.zip", manifest.Files[0].OriginalName)
	assert.Equal(t, 2, manifest.Files[0].Entries)
	assert.Equal(t, 100, manifest.MaxFiles)

	result, err := svc.RunJob(context.Background(), manifest.JobID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Meta.TotalPages)
	assert.Equal(t, manifest.Files[0].Digest, result.Meta.UploadID)
	assert.FileExists(t, result.OutputPath)
	assert.True(t, svc.ResultExists(manifest.JobID))

	meta, err := svc.LoadResultMeta(manifest.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1"}, meta.SheetNames)

	res, file, err := svc.OpenResultFile(manifest.JobID)
	require.NoError(t, err)
	assert.Equal(t, result.OutputSize, res.OutputSize)
	require.NoError(t, file.Close())

	require.NoError(t, result.Cleanup())
	assert.False(t, svc.ResultExists(manifest.JobID))
}

func TestRunJobFailureRemovesWorkspace(t *testing.T) {
	svc := newTestService(t, nil)
	data := zipBytes(t, zipEntry{"readme.txt", []byte("no pdfs here")})

	manifest, err := svc.PrepareMergeJob(context.Background(), fileHeader(t, "file", "docs.zip", data))
	require.NoError(t, err)

	_, err = svc.RunJob(context.Background(), manifest.JobID, nil)
	require.ErrorIs(t, err, ErrNoPDFs)

	_, statErr := os.Stat(filepath.Join(svc.store.Root(), manifest.JobID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrepareMergeJobRejectsNonZip(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.PrepareMergeJob(context.Background(), fileHeader(t, "file", "docs.zip", []byte("plain text")))
	require.ErrorIs(t, err, ErrInvalidArchive)

	entries, err := os.ReadDir(svc.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareMergeJobUploadTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadSize = 16
	svc := newTestService(t, cfg)
	data := zipBytes(t, zipEntry{"a.pdf", pdfWithWidths(t, 100)})

	_, err := svc.PrepareMergeJob(context.Background(), fileHeader(t, "file", "docs.zip", data))
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestInspectMultipart(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMergeFiles = 1
	svc := newTestService(t, cfg)
	data := zipBytes(t,
		zipEntry{"b.pdf", pdfWithWidths(t, 100)},
		zipEntry{"a.pdf", pdfWithWidths(t, 100)},
		zipEntry{"book.xlsx", workbookBytes(t, "Main")},
	)

	result, err := svc.InspectMultipart(context.Background(), fileHeader(t, "archive", "docs.zip", data))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Entries)
	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, result.PDFs)
	assert.Equal(t, []string{"a.pdf"}, result.Selected)
	assert.Equal(t, []string{"b.pdf"}, result.Omitted)
	assert.Equal(t, []string{"Main"}, result.SheetNames)

	entries, err := os.ReadDir(svc.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
