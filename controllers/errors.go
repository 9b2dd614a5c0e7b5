package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

// statusFor maps a service failure onto an HTTP status and an error-code offset.
func statusFor(err error) (int, int) {
	switch services.KindOf(err) {
	case services.KindMalformedInput:
		return http.StatusBadRequest, 0
	case services.KindConflict:
		return http.StatusConflict, 1
	case services.KindTimeout:
		return http.StatusGatewayTimeout, 2
	case services.KindCorruptRecord:
		return http.StatusInternalServerError, 3
	default:
		return http.StatusInternalServerError, 4
	}
}

// failService writes the error envelope for err. baseCode is the endpoint's code
// family (e.g. 50010); the kind offset is added so clients can tell failures apart.
func failService(ctx *gin.Context, baseCode int, message string, err error) {
	status, offset := statusFor(err)
	code := baseCode + offset
	if status == http.StatusBadRequest {
		code = 40000 + baseCode%100
	}
	utils.Logger.Warn(message,
		zap.String("path", ctx.FullPath()),
		zap.Int("status", status),
		zap.String("kind", string(services.KindOf(err))),
		zap.Error(err),
	)
	utils.ErrorDetail(ctx, status, code, message, err)
}
