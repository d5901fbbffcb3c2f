// Package storage はジョブ作業領域のローカル保存と期限切れ削除を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyKey   = errors.New("storage: key cannot be empty")
	ErrInvalidKey = errors.New("storage: key must be a single path segment")
)

// Local は root 配下にジョブごとのディレクトリを作成・削除します。
// 保存先: <root>/<jobID>/
type Local struct {
	root string
	now  func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{
		root:   abs,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Root はルートディレクトリの絶対パスを返します。
func (l *Local) Root() string {
	return l.root
}

// ValidateKey はキーがルート直下の1セグメントであることを検証します。
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	return nil
}

// Path はキーに対応するディレクトリパスを返します（存在確認はしません）。
func (l *Local) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, key), nil
}

// Create はキーに対応するディレクトリを新規作成します。既に存在する場合はエラーです。
func (l *Local) Create(key string) (string, error) {
	dir, err := l.Path(key)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

// Remove はディレクトリを削除し、予約済みの期限切れ削除を取り消します。
func (l *Local) Remove(key string) error {
	dir, err := l.Path(key)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
	l.mu.Unlock()
	return os.RemoveAll(dir)
}

// ExpireAfter は d 経過後にディレクトリを削除します。再度呼ぶと期限を延長します。
func (l *Local) ExpireAfter(key string, d time.Duration) error {
	dir, err := l.Path(key)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[key]; ok {
		t.Stop()
	}
	l.timers[key] = time.AfterFunc(d, func() {
		l.mu.Lock()
		delete(l.timers, key)
		l.mu.Unlock()
		_ = os.RemoveAll(dir)
	})
	return nil
}

// Sweep は更新時刻が maxAge より古いエントリを削除し、削除件数を返します。
// 再起動でタイマーが失われたワークスペースの回収に使います。
func (l *Local) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage root: %w", err)
	}
	cutoff := l.now().Add(-maxAge)

	var (
		removed int
		errs    []error
	)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := l.Remove(entry.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// RunJanitor は ctx が終了するまで interval ごとに Sweep を実行します。
func (l *Local) RunJanitor(ctx context.Context, interval, maxAge time.Duration, logger logrus.FieldLogger) {
	sweep := func() {
		n, err := l.Sweep(maxAge)
		if logger == nil {
			return
		}
		if err != nil {
			logger.WithError(err).Warn("workspace sweep finished with errors")
		}
		if n > 0 {
			logger.WithField("removed", n).Info("expired workspaces removed")
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
