package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/middleware"
	"github.com/cppla/checkin/services"
)

// CheckInRunner performs one check-in for a user.
type CheckInRunner interface {
	PerformCheckIn(ctx context.Context, userID string) (*services.CheckInSummary, error)
}

// StatsProvider reads a user's totals.
type StatsProvider interface {
	GetStats(ctx context.Context, userID string) (*services.StatsSummary, error)
}

// CheckInController serves the check-in and user-stats endpoints.
type CheckInController struct {
	checkins CheckInRunner
	stats    StatsProvider
}

// NewCheckInController creates a new controller instance.
func NewCheckInController(checkins CheckInRunner, stats StatsProvider) *CheckInController {
	return &CheckInController{checkins: checkins, stats: stats}
}

type checkInResponse struct {
	Code             int              `json:"code"`
	Message          string           `json:"message"`
	Outcome          services.Outcome `json:"outcome"`
	Count            int              `json:"count"`
	TotalCheckins    int              `json:"totalCheckins"`
	Streak           int              `json:"streak"`
	LastCheckin      time.Time        `json:"lastCheckin"`
	AlreadyCheckedIn bool             `json:"alreadyCheckedIn"`
}

type statsResponse struct {
	Code int `json:"code"`
	*services.StatsSummary
}

var outcomeMessages = map[services.Outcome]string{
	services.OutcomeFirstCheckIn:     "First checkin successful",
	services.OutcomeAlreadyCheckedIn: "You have already checked in today",
	services.OutcomeStreakContinued:  "Checkin successful",
	services.OutcomeStreakReset:      "Checkin successful",
}

// CheckIn records today's check-in for the caller. A same-day repeat is a 200
// with alreadyCheckedIn=true; any store failure is a non-2xx error.
func (c *CheckInController) CheckIn(ctx *gin.Context) {
	res, err := c.checkins.PerformCheckIn(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		failService(ctx, 50010, "Failed to process checkin", err)
		return
	}

	ctx.JSON(http.StatusOK, checkInResponse{
		Message:          outcomeMessages[res.Outcome],
		Outcome:          res.Outcome,
		Count:            res.Count,
		TotalCheckins:    res.Count,
		Streak:           res.Streak,
		LastCheckin:      res.LastCheckIn,
		AlreadyCheckedIn: res.AlreadyCheckedIn,
	})
}

// UserStats returns the caller's totals without recording anything.
func (c *CheckInController) UserStats(ctx *gin.Context) {
	res, err := c.stats.GetStats(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		failService(ctx, 50020, "Failed to fetch user stats", err)
		return
	}
	ctx.JSON(http.StatusOK, statsResponse{StatsSummary: res})
}
