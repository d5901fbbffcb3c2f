// Package jobs はZIP結合の非同期ジョブ管理を提供します。
//
// ジョブは asynq のキューで実行し、状態は Redis に保存します。
// 進捗は extract → scan → merge → write → completed の順に更新されます。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/pdf"
)

func (m *Manager) handleArchiveTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return m.process(ctx, payload)
}

// process はジョブを実行し、結果をストアに反映します。
// ジョブ自体の失敗はストアに記録して nil を返し、再試行しません。
func (m *Manager) process(ctx context.Context, payload TaskPayload) error {
	if payload.JobID == "" {
		return fmt.Errorf("%w: missing jobId in payload", asynq.SkipRetry)
	}
	logger := m.logger.WithField("job_id", payload.JobID)

	if err := m.store.Upsert(ctx, &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusRunning,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   StageLoad,
		},
	}); err != nil {
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			logger.WithError(err).Warn("failed to update progress")
		}
	})
	if err != nil {
		logger.WithError(err).Warn("job failed")
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	logger.WithFields(logrus.Fields{"bytes": result.OutputSize}).Info("job completed")
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *pdf.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, m.buildDownloadURL(result), result.Meta)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *pdf.Error
	info := &ErrorInfo{Code: "INTERNAL_ERROR", Message: pdf.UserMessage(err)}
	if errors.As(err, &apiErr) {
		info.Code = apiErr.Code
	}
	return m.store.MarkFailed(ctx, jobID, info)
}

func (m *Manager) buildDownloadURL(result *pdf.Result) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}
