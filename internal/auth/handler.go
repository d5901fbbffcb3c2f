package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// LoginPath はHTMLリクエストの未ログイン時のリダイレクト先です。
const LoginPath = "/login"

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login は POST /login と POST /api/auth/login のハンドラーです。
// JSON で送られた場合は JSON で、フォームの場合はリダイレクトで応答します。
func (m *Manager) Login(c *gin.Context) {
	asJSON := strings.HasPrefix(c.ContentType(), gin.MIMEJSON)

	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		m.loginFailed(c, asJSON, http.StatusBadRequest, "INVALID_INPUT", "יש להזין שם משתמש וסיסמה.", nil)
		return
	}

	if !m.Enabled() {
		m.loginFailed(c, asJSON, http.StatusNotFound, "AUTH_DISABLED", "הכניסה אינה נדרשת.", nil)
		return
	}
	if err := m.ensureCredentials(); err != nil {
		m.logger.WithError(err).Error("auth misconfigured")
		m.loginFailed(c, asJSON, http.StatusInternalServerError, "SERVER_MISCONFIGURATION", "השרת אינו מוגדר כראוי.", nil)
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		m.loginFailed(c, asJSON, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "יותר מדי ניסיונות. נסו שוב מאוחר יותר.", nil)
		return
	}

	if req.Username != m.cfg.AppUsername || !m.verifyPassword(req.Password) {
		remaining := m.recordFailure(ip)
		m.loginFailed(c, asJSON, http.StatusUnauthorized, "INVALID_CREDENTIALS", "שם המשתמש או הסיסמה שגויים.", gin.H{"remainingAttempts": remaining})
		return
	}

	m.resetAttempts(ip)

	token, err := generateToken()
	if err != nil {
		m.loginFailed(c, asJSON, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "יצירת אסימון האבטחה נכשלה.", nil)
		return
	}

	session := sessions.Default(c)
	now := m.now()
	// 固定化を避けるためログイン時に既存の値を破棄する
	session.Clear()
	session.Set(sessionKeyUser, m.cfg.AppUsername)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)

	if err := session.Save(); err != nil {
		m.loginFailed(c, asJSON, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "שמירת ההתחברות נכשלה.", nil)
		return
	}

	c.Header(CSRFHeader, token)
	if asJSON {
		c.Status(http.StatusNoContent)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// Logout はセッションを破棄します。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "ההתנתקות נכשלה.",
		})
		return
	}
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, LoginPath)
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Manager) loginFailed(c *gin.Context, asJSON bool, status int, code, message string, extra gin.H) {
	if asJSON {
		body := gin.H{"code": code, "message": message}
		for k, v := range extra {
			body[k] = v
		}
		c.JSON(status, body)
		return
	}
	c.Redirect(http.StatusSeeOther, LoginPath+"?error="+code)
}

// LoginErrorMessage はログイン画面に表示するメッセージを返します。
func LoginErrorMessage(code string) string {
	switch code {
	case "":
		return ""
	case "TOO_MANY_ATTEMPTS":
		return "יותר מדי ניסיונות. נסו שוב מאוחר יותר."
	case "INVALID_CREDENTIALS":
		return "שם המשתמש או הסיסמה שגויים."
	case "SESSION_EXPIRED", "SESSION_IDLE_TIMEOUT":
		return "פג תוקף ההתחברות. יש להתחבר מחדש."
	default:
		return "ההתחברות נכשלה."
	}
}
