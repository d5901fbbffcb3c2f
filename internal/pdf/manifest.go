package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブに必要な情報を保持します。
type JobManifest struct {
	JobID     string        `json:"jobId"`
	Operation OperationType `json:"operation"`
	Files     []JobFile     `json:"files"`
	MaxFiles  int           `json:"maxFiles"`
	Order     SortOrder     `json:"order"`
	CreatedAt time.Time     `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Digest       string `json:"digest"`
	Entries      int    `json:"entries"`
}

func writeManifest(ws workspace, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	return writeJSON(ws.manifestPath(), manifest)
}

func loadManifest(ws workspace) (*JobManifest, error) {
	data, err := os.ReadFile(ws.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
