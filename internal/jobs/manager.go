package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/pdf"
)

const (
	taskTypeArchiveMerge = "archive:merge"
	queueName            = "archive"
)

// Runner はキューから取り出したジョブを実行します。pdf.Service が実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter pdf.ProgressReporter) (*pdf.Result, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	runner Runner
	logger logrus.FieldLogger
}

// TaskPayload は結合ジョブのペイロードです。
type TaskPayload struct {
	JobID     string            `json:"jobId"`
	Operation pdf.OperationType `json:"operation"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store *Store, logger logrus.FieldLogger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger:   &asynqLogger{logger: logger.WithField("component", "asynq")},
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeArchiveMerge, manager.handleArchiveTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.WithError(err).Error("asynq server stopped")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入し、キュー上のタスクIDを返します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   StageQueued,
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeArchiveMerge, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		_ = m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{Code: "QUEUE_UNAVAILABLE", Message: err.Error()})
		return "", err
	}
	m.logger.WithFields(logrus.Fields{"job_id": payload.JobID, "task_id": info.ID}).Info("job enqueued")
	return info.ID, nil
}

// Schedule は pdf.JobScheduler を満たします。
func (m *Manager) Schedule(ctx context.Context, op pdf.OperationType, jobID string) error {
	_, err := m.Enqueue(ctx, &TaskPayload{JobID: jobID, Operation: op})
	return err
}

// GetRecord はジョブ情報を取得します。存在しない場合は nil を返します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// asynqLogger は asynq のログを logrus に流します。
type asynqLogger struct {
	logger logrus.FieldLogger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(args...) }
