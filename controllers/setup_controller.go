package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/store"
	"github.com/cppla/checkin/utils"
)

// SetupController reports on, and where possible creates, the backing table.
type SetupController struct {
	schema  store.SchemaChecker
	timeout time.Duration
}

// NewSetupController creates a new controller instance.
func NewSetupController(schema store.SchemaChecker, timeout time.Duration) *SetupController {
	return &SetupController{schema: schema, timeout: timeout}
}

func (s *SetupController) withTimeout(ctx *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx.Request.Context(), func() {}
	}
	return context.WithTimeout(ctx.Request.Context(), s.timeout)
}

// SetupDB handles GET /api/setup-db.
func (s *SetupController) SetupDB(ctx *gin.Context) {
	reqCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	existed, err := s.schema.EnsureTable(reqCtx)
	switch {
	case errors.Is(err, store.ErrTableMissing):
		ctx.JSON(http.StatusNotFound, gin.H{
			"code":    40450,
			"message": "The users table does not exist. Please run the following SQL in your Supabase SQL Editor:",
			"sql":     store.CreateTableSQL,
		})
	case errors.Is(err, store.ErrVersionMissing):
		ctx.JSON(http.StatusConflict, gin.H{
			"code":    40950,
			"message": "The users table has no version column. Please run the following SQL in your Supabase SQL Editor:",
			"sql":     store.AddVersionColumnSQL,
		})
	case err != nil:
		utils.ErrorDetail(ctx, http.StatusInternalServerError, 50050, "Error checking for existing tables", err)
	case existed:
		utils.Respond(ctx, http.StatusOK, 0, "Database tables already exist", nil)
	default:
		utils.Respond(ctx, http.StatusOK, 0, "Database tables created", nil)
	}
}

// Health is a liveness probe.
func (s *SetupController) Health(ctx *gin.Context) {
	utils.Success(ctx, gin.H{"status": "ok"})
}

// Ready reports whether the record store answers.
func (s *SetupController) Ready(ctx *gin.Context) {
	reqCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.schema.Ping(reqCtx); err != nil {
		utils.ErrorDetail(ctx, http.StatusServiceUnavailable, 50301, "record store unavailable", err)
		return
	}
	utils.Success(ctx, gin.H{"status": "ready"})
}
