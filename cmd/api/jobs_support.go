package main

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/jobs"
	"github.com/yourusername/zip-merge/internal/pdf"
)

func setupJobs(cfg *config.Config, pdfService *pdf.Service, logger *logrus.Logger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, pdfService, store, logger.WithField("component", "jobs"))
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    pdf.CodeInvalidInput,
				"message": "יש לציין מזהה עבודה.",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "שליפת מצב העבודה נכשלה.",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "העבודה המבוקשת אינה קיימת.",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"operation": record.Operation,
			"status":    record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
			},
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(pdfService *pdf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    pdf.CodeInvalidInput,
				"message": "יש לציין מזהה עבודה.",
			})
			return
		}

		result, file, err := pdfService.OpenResultFile(jobID)
		if err != nil {
			var apiErr *pdf.Error
			switch {
			case errors.Is(err, fs.ErrNotExist):
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "הקובץ המאוחד אינו זמין עוד.",
				})
			case errors.As(err, &apiErr):
				c.JSON(pdf.StatusFor(err), gin.H{
					"code":    apiErr.Code,
					"message": apiErr.Message,
				})
			default:
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "שליפת הקובץ המאוחד נכשלה.",
				})
			}
			return
		}
		defer file.Close()

		pdf.ServeFile(c, result, file)
	}
}
