package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
// 成果物が存在しない場合のエラーは fs.ErrNotExist を満たします。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, nil, err
	}

	outputPath := filepath.Join(ws.outDir, outputFilename)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		Operation:      OperationArchiveMerge,
		OutputPath:     outputPath,
		OutputFilename: outputFilename,
		OutputSize:     info.Size(),
		ResultKind:     ResultKindPDF,
		jobDir:         ws.dir,
	}

	return result, file, nil
}

// LoadResultMeta は完了済みジョブのメタデータを読み込みます。
func (s *Service) LoadResultMeta(jobID string) (*MergeMeta, error) {
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ws.metaPath())
	if err != nil {
		return nil, err
	}
	var meta MergeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta: %w", err)
	}
	return &meta, nil
}

// ResultExists は成果物がまだ残っているかを返します。
func (s *Service) ResultExists(jobID string) bool {
	if strings.TrimSpace(jobID) == "" {
		return false
	}
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(ws.outDir, outputFilename))
	return err == nil
}
