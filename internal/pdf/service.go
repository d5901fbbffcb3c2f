// Package pdf はZIPアーカイブ内のPDF結合処理とそのHTTPハンドラーを提供します。
package pdf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/archive"
	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/storage"
)

const defaultCleanupMin = 10

// Service はアップロードの保存・展開・結合をまとめて扱います。
type Service struct {
	cfg    *config.Config
	store  *storage.Local
	logger logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// NewService は Service を作成します。logger が nil の場合は標準ロガーを使います。
func NewService(cfg *config.Config, store *storage.Local, logger logrus.FieldLogger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

func (s *Service) createWorkspace() (workspace, error) {
	jobID := s.newID()
	dir, err := s.store.Create(jobID)
	if err != nil {
		return workspace{}, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
	}
	ws := newWorkspace(jobID, dir)
	for _, d := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) (workspace, error) {
	dir, err := s.store.Path(jobID)
	if err != nil {
		return workspace{}, newError(CodeInvalidInput, "מזהה עבודה לא תקין.", err)
	}
	return newWorkspace(jobID, dir), nil
}

func (s *Service) scheduleExpiry(ws workspace) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	if err := s.store.ExpireAfter(ws.jobID, time.Duration(expireMinutes)*time.Minute); err != nil {
		s.logger.WithError(err).WithField("job_id", ws.jobID).Warn("failed to schedule workspace expiry")
	}
}

func (s *Service) extractLimits() archive.Limits {
	return archive.Limits{
		MaxEntries:    s.cfg.MaxArchiveEntries,
		MaxTotalBytes: s.cfg.MaxExtractedBytes,
	}
}

func (s *Service) mergeOptions() MergeOptions {
	order := SortLexical
	if s.cfg.MergeOrder == config.MergeOrderArchive {
		order = SortArchive
	}
	return MergeOptions{
		MaxFiles: s.cfg.MergeLimit(),
		Order:    order,
	}
}

// DiscardJob はジョブのワークスペースを削除します。
func (s *Service) DiscardJob(jobID string) error {
	if jobID == "" {
		return nil
	}
	return s.store.Remove(jobID)
}
