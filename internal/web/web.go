// Package web はZIPアップロード用のサーバーレンダリング画面を提供します。
//
// セッションには最後に処理したアップロードのハッシュと成果物のジョブIDを保存し、
// 同じZIPが再送信された場合は成果物が残っている限り再処理せずに結果を表示します。
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/auth"
	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/pdf"
)

const (
	pageTitle  = "איחוד קובצי PDF מתוך ZIP"
	loginTitle = "כניסה"

	uploadField     = "archive"
	noUploadMessage = "יש לבחור קובץ ZIP להעלאה."

	sessionKeyDigest = "handled_upload"
	sessionKeyJobID  = "result_job"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates は画面テンプレートを読み込みます。gin.Engine.SetHTMLTemplate に渡します。
func Templates() (*template.Template, error) {
	funcs := template.FuncMap{
		"bytes": func(n int64) string {
			if n < 0 {
				n = 0
			}
			return humanize.Bytes(uint64(n))
		},
	}
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}

// Service は画面から使う pdf.Service の機能です。
type Service interface {
	PrepareMergeJob(ctx context.Context, file *multipart.FileHeader) (*pdf.JobManifest, error)
	RunJob(ctx context.Context, jobID string, reporter pdf.ProgressReporter) (*pdf.Result, error)
	DiscardJob(jobID string) error
	ResultExists(jobID string) bool
	LoadResultMeta(jobID string) (*pdf.MergeMeta, error)
	OpenResultFile(jobID string) (*pdf.Result, *os.File, error)
}

// Handler は画面のハンドラー群です。
type Handler struct {
	cfg    *config.Config
	svc    Service
	auth   *auth.Manager
	logger logrus.FieldLogger
}

// NewHandler は Handler を作成します。
func NewHandler(cfg *config.Config, svc Service, authManager *auth.Manager, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{cfg: cfg, svc: svc, auth: authManager, logger: logger}
}

// Register はログイン画面を router に、それ以外を protected に登録します。
func (h *Handler) Register(router gin.IRoutes, protected gin.IRoutes) {
	router.GET("/login", h.LoginPage)
	router.POST("/login", h.auth.Login)

	protected.GET("/", h.Index)
	protected.POST("/", h.Submit)
	protected.POST("/reset", h.Reset)
	protected.POST("/logout", h.auth.Logout)
	protected.GET("/download/:id", h.Download)
}

type pageData struct {
	Title         string
	CSRFToken     string
	Error         string
	Notices       []string
	Result        *pdf.MergeMeta
	ResultSize    int64
	DownloadURL   string
	MaxUploadSize int64
	MaxFiles      int
	AuthEnabled   bool
}

func (h *Handler) newPage(c *gin.Context) (*pageData, error) {
	token, err := auth.CSRFToken(c)
	if err != nil {
		return nil, err
	}
	return &pageData{
		Title:         pageTitle,
		CSRFToken:     token,
		MaxUploadSize: h.cfg.MaxUploadSize,
		MaxFiles:      h.cfg.MergeLimit(),
		AuthEnabled:   h.auth.Enabled(),
	}, nil
}

// Index は GET / です。前回の成果物が残っていればそれを表示します。
func (h *Handler) Index(c *gin.Context) {
	page, err := h.newPage(c)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if jobID := h.currentJob(c); jobID != "" {
		h.fillResult(page, jobID)
	}
	c.HTML(http.StatusOK, "index.html", page)
}

// Submit は POST / です。アップロードを保存し、未処理であれば結合します。
func (h *Handler) Submit(c *gin.Context) {
	page, err := h.newPage(c)
	if err != nil {
		h.internalError(c, err)
		return
	}

	fh, err := c.FormFile(uploadField)
	if err != nil {
		page.Error = noUploadMessage
		c.HTML(http.StatusBadRequest, "index.html", page)
		return
	}

	ctx := c.Request.Context()
	manifest, err := h.svc.PrepareMergeJob(ctx, fh)
	if err != nil {
		h.renderError(c, page, err)
		return
	}

	session := sessions.Default(c)
	prevJob := h.currentJob(c)
	state := pdf.ProcessState{UploadID: manifest.Files[0].Digest}
	if prevJob != "" {
		state.HandledUploadID, _ = session.Get(sessionKeyDigest).(string)
	}

	logger := h.logger.WithField("job_id", manifest.JobID)
	if state.AlreadyHandled() {
		// 同じ内容のZIPは再処理しない
		if err := h.svc.DiscardJob(manifest.JobID); err != nil {
			logger.WithError(err).Warn("failed to discard duplicate upload")
		}
		logger.WithField("result_job", prevJob).Info("upload already handled")
		h.fillResult(page, prevJob)
		c.HTML(http.StatusOK, "index.html", page)
		return
	}

	result, err := h.svc.RunJob(ctx, manifest.JobID, nil)
	if err != nil {
		logger.WithError(err).Info("merge failed")
		h.renderError(c, page, err)
		return
	}

	if prevJob != "" && prevJob != result.JobID {
		if err := h.svc.DiscardJob(prevJob); err != nil {
			logger.WithError(err).Warn("failed to discard previous result")
		}
	}
	session.Set(sessionKeyDigest, state.UploadID)
	session.Set(sessionKeyJobID, result.JobID)
	if err := session.Save(); err != nil {
		h.internalError(c, err)
		return
	}

	c.Header("X-Job-Id", result.JobID)
	page.Result = result.Meta
	page.ResultSize = result.OutputSize
	page.DownloadURL = downloadURL(result.JobID)
	if result.Meta != nil {
		page.Notices = result.Meta.Notices
	}
	c.HTML(http.StatusOK, "index.html", page)
}

// Reset は POST /reset です。処理済みの記録と成果物を破棄します。
func (h *Handler) Reset(c *gin.Context) {
	session := sessions.Default(c)
	if jobID := h.currentJob(c); jobID != "" {
		if err := h.svc.DiscardJob(jobID); err != nil {
			h.logger.WithError(err).WithField("job_id", jobID).Warn("failed to discard result")
		}
	}
	session.Delete(sessionKeyDigest)
	session.Delete(sessionKeyJobID)
	if err := session.Save(); err != nil {
		h.internalError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// Download は GET /download/:id です。自分のセッションの成果物のみ返します。
func (h *Handler) Download(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" || jobID != h.currentJob(c) {
		c.String(http.StatusNotFound, "הקובץ אינו זמין עוד.")
		return
	}

	result, file, err := h.svc.OpenResultFile(jobID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.String(http.StatusNotFound, "הקובץ אינו זמין עוד.")
			return
		}
		h.internalError(c, err)
		return
	}
	defer file.Close()

	pdf.ServeFile(c, result, file)
}

// LoginPage は GET /login です。
func (h *Handler) LoginPage(c *gin.Context) {
	if !h.auth.Enabled() {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", &pageData{
		Title: loginTitle,
		Error: auth.LoginErrorMessage(c.Query("error")),
	})
}

// currentJob はセッションの成果物ジョブIDを返します。成果物が消えていれば空です。
func (h *Handler) currentJob(c *gin.Context) string {
	jobID, _ := sessions.Default(c).Get(sessionKeyJobID).(string)
	if jobID == "" || !h.svc.ResultExists(jobID) {
		return ""
	}
	return jobID
}

func (h *Handler) fillResult(page *pageData, jobID string) {
	meta, err := h.svc.LoadResultMeta(jobID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", jobID).Warn("failed to load result meta")
		return
	}
	page.Result = meta
	page.Notices = meta.Notices
	page.DownloadURL = downloadURL(jobID)
	if result, file, err := h.svc.OpenResultFile(jobID); err == nil {
		page.ResultSize = result.OutputSize
		file.Close()
	}
}

func (h *Handler) renderError(c *gin.Context, page *pageData, err error) {
	status := pdf.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("upload processing failed")
	}
	page.Error = pdf.UserMessage(err)
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		page.Notices = apiErr.Notices
	}
	c.HTML(status, "index.html", page)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.logger.WithError(err).Error("web handler failed")
	c.String(http.StatusInternalServerError, pdf.UserMessage(err))
}

func downloadURL(jobID string) string {
	return "/download/" + jobID
}
