package pdf

import (
	"archive/zip"
	"bytes"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/storage"
)

type zipEntry struct {
	name string
	data []byte
}

// pdfWithWidths はページ幅だけが異なるPDFを生成します。結合順の検証に使います。
func pdfWithWidths(t *testing.T, widths ...float64) []byte {
	t.Helper()
	var doc *gofpdf.Fpdf
	for i, w := range widths {
		if i == 0 {
			doc = gofpdf.NewCustom(&gofpdf.InitType{
				OrientationStr: "P",
				UnitStr:        "pt",
				Size:           gofpdf.SizeType{Wd: w, Ht: 800},
			})
			doc.SetFont("Helvetica", "", 12)
		}
		doc.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: 800})
		doc.Cell(40, 10, "page")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func workbookBytes(t *testing.T, sheets ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			continue
		}
		_, err := f.NewSheet(name)
		require.NoError(t, err)
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func zipBytes(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.data != nil {
			_, err = w.Write(e.data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, data, 0o640))
	return p
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	store, err := storage.NewLocal(cfg.WorkDir)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := NewService(cfg, store, logger)
	require.NoError(t, err)
	return svc
}

// fileHeader はマルチパートフォームを経由して FileHeader を作ります。
func fileHeader(t *testing.T, field, filename string, data []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm.File[field][0]
}

// extractDirs はストア直下に残った展開ディレクトリを返します。
func extractDirs(t *testing.T, svc *Service) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(svc.store.Root(), "extract-*"))
	require.NoError(t, err)
	return matches
}
