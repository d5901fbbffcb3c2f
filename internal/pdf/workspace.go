package pdf

import (
	"os"
	"path/filepath"
)

const metaFilename = "meta.json"

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func newWorkspace(jobID, dir string) workspace {
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (w workspace) metaPath() string {
	return filepath.Join(w.dir, metaFilename)
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
