package response

import (
	"net/http"

	appErr "gameroom-service/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
	Msg  string      `json:"msg"`
}

// ErrorBody carries the stable error code front-ends localize on.
type ErrorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, "")
}

func SuccessWithMsg(c *gin.Context, data interface{}, msg string) {
	JSON(c, http.StatusOK, data, msg)
}

func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, gin.H{}, msg)
}

// AppError writes err as {code, msg}. Errors without a stable code are
// reported as INTERNAL and their text is not exposed.
func AppError(c *gin.Context, err error) {
	body := ErrorOf(err)
	c.JSON(StatusOf(body.Code), body)
}

func ErrorOf(err error) ErrorBody {
	code := appErr.CodeOf(err)
	msg := "internal error"
	if code != appErr.CodeInternal {
		msg = err.Error()
	}
	return ErrorBody{Code: code, Msg: msg}
}

func StatusOf(code string) int {
	switch code {
	case appErr.ErrUnauthorized.Code, appErr.ErrOperatorNotFound.Code, appErr.ErrInvalidPassword.Code:
		return http.StatusUnauthorized
	case appErr.ErrOperatorDisabled.Code, appErr.ErrNotHost.Code, appErr.ErrNotInRoom.Code, appErr.ErrNotYourTurn.Code:
		return http.StatusForbidden
	case appErr.ErrRoomNotFound.Code, appErr.ErrReservationNotFound.Code:
		return http.StatusNotFound
	case appErr.ErrSeatFull.Code, appErr.ErrAlreadyStarted.Code, appErr.ErrInvalidState.Code, appErr.ErrHoldsLiveRoom.Code,
		appErr.ErrSlotUnavailable.Code, appErr.ErrReservationExpired.Code:
		return http.StatusConflict
	case appErr.ErrInsufficientFunds.Code, appErr.ErrPaymentFailed.Code, appErr.ErrReserveExhausted.Code:
		return http.StatusPaymentRequired
	case appErr.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func JSON(c *gin.Context, status int, data interface{}, msg string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Body{
		Code: status,
		Data: data,
		Msg:  msg,
	})
}
