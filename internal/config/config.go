// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 結合順序の指定値
const (
	MergeOrderLexical = "lexical"
	MergeOrderArchive = "archive"
)

// DefaultMaxMergeFiles は結合対象PDFの既定上限です。
const DefaultMaxMergeFiles = 100

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アクセス制御（APP_PASSWORD_HASH が空なら無効）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード・展開の制限
	MaxUploadSize     int64 // アップロードZIPの最大サイズ（バイト）
	MaxArchiveEntries int   // ZIP内エントリ数の上限
	MaxExtractedBytes int64 // 展開後の合計サイズ上限（バイト）

	// 結合設定
	MaxMergeFiles int    // 結合するPDFの上限数
	MergeOrder    string // lexical または archive
	ScanNested    bool   // サブディレクトリ内のファイルも対象にするか

	// 作業領域
	WorkDir          string // ジョブごとのワークスペースを作成するディレクトリ
	JobExpireMinutes int    // ジョブ成果物の有効期限（分）

	// ジョブ/キュー設定（QUEUE_REDIS_URL が空なら同期処理のみ）
	QueueRedisURL         string
	AsyncThresholdBytes   int64 // 同期処理から非同期へ切り替えるサイズ閾値
	AsyncThresholdEntries int   // 同期処理から非同期へ切り替えるエントリ数閾値
	JobResultBaseURL      string

	// ログ設定
	LogLevel  string
	LogFormat string // text または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", "admin"),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxUploadSize:     getEnvAsInt64("MAX_UPLOAD_SIZE", 200*1024*1024), // 200MB
		MaxArchiveEntries: getEnvAsInt("MAX_ARCHIVE_ENTRIES", 2000),
		MaxExtractedBytes: getEnvAsInt64("MAX_EXTRACTED_BYTES", 1024*1024*1024), // 1GB

		MaxMergeFiles: getEnvAsInt("MAX_MERGE_FILES", DefaultMaxMergeFiles),
		MergeOrder:    strings.ToLower(getEnv("MERGE_ORDER", MergeOrderLexical)),
		ScanNested:    getEnvAsBool("SCAN_NESTED", false),

		WorkDir:          getEnv("WORK_DIR", filepath.Join(os.TempDir(), "zip-merge")),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		QueueRedisURL:         getEnv("QUEUE_REDIS_URL", ""),
		AsyncThresholdBytes:   getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 50*1024*1024), // 50MB
		AsyncThresholdEntries: getEnvAsInt("ASYNC_THRESHOLD_ENTRIES", 60),
		JobResultBaseURL:      getEnv("JOB_RESULT_BASE_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Default はテストやCLIで使う既定値の設定を返します。
func Default() *Config {
	return &Config{
		Port:              "8080",
		GinMode:           "test",
		MaxUploadSize:     200 * 1024 * 1024,
		MaxArchiveEntries: 2000,
		MaxExtractedBytes: 1024 * 1024 * 1024,
		MaxMergeFiles:     DefaultMaxMergeFiles,
		MergeOrder:        MergeOrderLexical,
		WorkDir:           filepath.Join(os.TempDir(), "zip-merge"),
		JobExpireMinutes:  10,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.MergeOrder {
	case MergeOrderLexical, MergeOrderArchive:
	default:
		return fmt.Errorf("MERGE_ORDER must be %q or %q (got %q)", MergeOrderLexical, MergeOrderArchive, c.MergeOrder)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR must not be empty")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}

	// 本番ではセッション署名鍵を必須とする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.AppPasswordHash != "" && c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required when APP_PASSWORD_HASH is set")
		}
	}

	return nil
}

// MergeLimit は上限値を返します。0以下の場合は既定値に戻します。
func (c *Config) MergeLimit() int {
	if c.MaxMergeFiles <= 0 {
		return DefaultMaxMergeFiles
	}
	return c.MaxMergeFiles
}

// AuthEnabled はアクセス制御が有効かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppPasswordHash != ""
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
