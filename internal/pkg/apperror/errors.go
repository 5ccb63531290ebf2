package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeState              ErrorCode = "STATE_CONFLICT"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayError       ErrorCode = "GATEWAY_ERROR"
	ErrCodeTimerStuck         ErrorCode = "TIMER_STUCK"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	// Details несёт поля ошибки валидации или текущее состояние для STATE_CONFLICT.
	Details map[string]string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Validation создаёт ошибку валидации с детализацией по полю.
func Validation(field, message string) *AppError {
	err := New(ErrCodeValidation, message)
	err.Details = map[string]string{field: message}
	return err
}

// State создаёт ошибку недопустимого перехода с указанием текущего состояния.
func State(current, message string) *AppError {
	err := New(ErrCodeState, message)
	err.Details = map[string]string{"current_state": current}
	return err
}

// GatewayTransient оборачивает временный сбой платёжного процессора.
func GatewayTransient(err error, message string) *AppError {
	return Wrap(err, ErrCodeGatewayUnavailable, message)
}

// GatewayFatal оборачивает окончательный отказ платёжного процессора.
func GatewayFatal(err error, message string) *AppError {
	return Wrap(err, ErrCodeGatewayError, message)
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeState:
		return http.StatusConflict
	case ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return hasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func IsState(err error) bool {
	return hasCode(err, ErrCodeState)
}

func IsGatewayTransient(err error) bool {
	return hasCode(err, ErrCodeGatewayUnavailable)
}

func IsGatewayFatal(err error) bool {
	return hasCode(err, ErrCodeGatewayError)
}

var (
	ErrEscrowNotFound    = New(ErrCodeNotFound, "escrow не найден")
	ErrMilestoneNotFound = New(ErrCodeNotFound, "этап не найден")
	ErrWorkOrderNotFound = New(ErrCodeNotFound, "наряд не найден")
	ErrUserNotFound      = New(ErrCodeNotFound, "пользователь не найден")
	ErrPlanNotFound      = New(ErrCodeNotFound, "тариф не найден")
	ErrAccountNotFound   = New(ErrCodeNotFound, "платёжный счёт не подключён")
	ErrPayoutNotFound    = New(ErrCodeNotFound, "задача выплаты не найдена")
	ErrUnauthorized      = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden         = New(ErrCodeForbidden, "недостаточно прав")
	ErrEscrowNotFunded   = New(ErrCodeState, "escrow ещё не профинансирован")
)
