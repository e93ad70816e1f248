package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/scheduling"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
)

type schedulingAPI interface {
	ScheduleCampaign(ctx context.Context, req campaign.ScheduleReq) ([]campaign.ScheduledJob, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]campaign.Email, error)
	GetByID(ctx context.Context, id int64) (campaign.Email, error)
	Stats(ctx context.Context) (scheduling.Stats, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Svc schedulingAPI
	DB  pinger
}

func NewHandlers(svc schedulingAPI, db pinger) *Handlers {
	return &Handlers{Svc: svc, DB: db}
}

func (h *Handlers) Healthz(c *gin.Context) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			logx.L().Warnw("healthz_db_unreachable", "error", err)
			c.String(http.StatusServiceUnavailable, "db unreachable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) Schedule(c *gin.Context) {
	var req campaign.ScheduleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	jobs, err := h.Svc.ScheduleCampaign(ctx, req)
	switch {
	case errors.Is(err, scheduling.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logx.L().Errorw("schedule_campaign_error", "created", len(jobs), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule error", "jobs": jobs})
		return
	}

	c.JSON(http.StatusCreated, campaign.ScheduleResp{
		Message: fmt.Sprintf("scheduled %d emails", len(jobs)),
		Jobs:    jobs,
	})
}

func (h *Handlers) listByStatus(status campaign.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		out, err := h.Svc.ListByStatus(ctx, string(status), limit, offset)
		if err != nil {
			logx.L().Errorw("list_emails_error", "status", status, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handlers) Stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Svc.Stats(ctx)
	if err != nil {
		logx.L().Errorw("email_stats_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) GetEmail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	e, err := h.Svc.GetByID(ctx, id)
	switch {
	case errors.Is(err, scheduling.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	case err != nil:
		logx.L().Errorw("get_email_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get error"})
		return
	}
	c.JSON(http.StatusOK, e)
}
