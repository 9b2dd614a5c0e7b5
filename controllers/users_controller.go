package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/store"
	"github.com/cppla/checkin/utils"
)

const defaultPageSize = 20

// UsersController lists every stored record, newest check-in first.
type UsersController struct {
	users    store.UserLister
	timeout  time.Duration
	cacheTTL time.Duration
}

// NewUsersController creates a controller; pages are cached in Redis for cacheTTL.
func NewUsersController(users store.UserLister, timeout, cacheTTL time.Duration) *UsersController {
	return &UsersController{users: users, timeout: timeout, cacheTTL: cacheTTL}
}

type listUsersQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type usersPage struct {
	Users    []models.CheckInRecord `json:"users"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// ListUsers handles GET /api/users?page=&page_size=.
func (u *UsersController) ListUsers(ctx *gin.Context) {
	var q listUsersQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		utils.ErrorDetail(ctx, http.StatusBadRequest, 40030, "invalid pagination parameters", err)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}

	key := utils.UsersCacheKey(q.Page, q.PageSize)
	if b, ok := utils.CacheGetBytes(key); ok {
		ctx.Header("X-Cache", "HIT")
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
		return
	}

	reqCtx := ctx.Request.Context()
	if u.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, u.timeout)
		defer cancel()
	}
	users, total, err := u.users.ListUsers(reqCtx, q.Page, q.PageSize)
	if err != nil {
		status := http.StatusInternalServerError
		if reqCtx.Err() != nil {
			status = http.StatusGatewayTimeout
		}
		utils.ErrorDetail(ctx, status, 50030, "Failed to fetch users", err)
		return
	}
	if users == nil {
		users = []models.CheckInRecord{}
	}

	body, err := json.Marshal(utils.JSONResponse{
		Code:    0,
		Message: "success",
		Data:    usersPage{Users: users, Total: total, Page: q.Page, PageSize: q.PageSize},
	})
	if err != nil {
		utils.ErrorDetail(ctx, http.StatusInternalServerError, 50031, "Failed to encode users", err)
		return
	}
	utils.CacheSetBytes(key, body, u.cacheTTL)
	ctx.Header("X-Cache", "MISS")
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
