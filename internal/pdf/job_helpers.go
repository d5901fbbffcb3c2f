package pdf

import "path/filepath"

func toJobFile(upload *Upload) JobFile {
	return JobFile{
		StoredName:   filepath.Base(upload.Path),
		OriginalName: upload.Name,
		Size:         upload.Size,
		Digest:       upload.Digest,
		Entries:      upload.Entries,
	}
}

func uploadFromManifest(ws workspace, manifest *JobManifest) *Upload {
	if manifest == nil || len(manifest.Files) == 0 {
		return nil
	}
	f := manifest.Files[0]
	return &Upload{
		Path:    filepath.Join(ws.inDir, f.StoredName),
		Name:    f.OriginalName,
		Size:    f.Size,
		Digest:  f.Digest,
		Entries: f.Entries,
	}
}
