package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"image-sage-server-go/internal/app/services"
	apperrors "image-sage-server-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondAnalysis 按分析结果返回，错误时 data 为 {error:{...}}
func RespondAnalysis(c *gin.Context, resp services.Response) {
	if !resp.IsError() {
		RespondSuccess(c, http.StatusOK, resp.Result, "")
		return
	}
	body := resp.Err.Error
	RespondError(c, StatusForCode(body.Code), body.Message, resp.Err)
}

// StatusForCode maps an error code to an HTTP status.
func StatusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidURL:
		return http.StatusBadRequest
	case apperrors.CodeFetchError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
