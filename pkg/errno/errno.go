package errno

import (
	"errors"
	"fmt"
	"strings"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 让子类错误 (如 ErrInvalidAmount) 同时匹配其所属的大类 (ErrInvalidArgument)。
// 大类的 Code 是 100 的整数倍。
func (e Errno) Is(target error) bool {
	t, ok := target.(Errno)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code%100 == 0 && t.Code/100 == e.Code/100
}

// New 基于错误码构造带有上下文描述的错误
func (e Errno) New(format string, args ...interface{}) error {
	return &Error{Errno: e, Detail: fmt.Sprintf(format, args...)}
}

// Wrap 附加底层错误 (cause)，errors.Is 可同时匹配错误码与 cause
func (e Errno) Wrap(cause error, format string, args ...interface{}) error {
	return &Error{Errno: e, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// Error 是携带详细信息的 Errno
type Error struct {
	Errno
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	parts := []string{e.Message}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Errno}
	}
	return []error{e.Errno, e.Cause}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var detailed *Error
	if errors.As(err, &detailed) {
		return detailed.Code, err.Error()
	}

	var coded Errno
	if errors.As(err, &coded) {
		return coded.Code, err.Error()
	}
	// 只实现 Is 的外部错误类型 (例如设备状态码)
	for _, known := range []Errno{ErrDevice, ErrNetwork, ErrRejected} {
		if errors.Is(err, known) {
			return known.Code, err.Error()
		}
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
)

// Currency contract errors (20000+)
var (
	ErrUnknownCurrency = Errno{Code: 20101, Message: "unknown currency"}

	ErrInvalidArgument = Errno{Code: 20300, Message: "invalid argument"}
	ErrInvalidAmount   = Errno{Code: 20301, Message: "invalid amount"}
	ErrInvalidPubkey   = Errno{Code: 20302, Message: "invalid public key"}
	ErrInvalidAddress  = Errno{Code: 20303, Message: "invalid address"}
	ErrInvalidFee      = Errno{Code: 20304, Message: "invalid fee option"}
	ErrInvalidNetwork  = Errno{Code: 20305, Message: "invalid network"}

	ErrFeeNotApplicable = Errno{Code: 20401, Message: "fee option not applicable"}
	ErrUnfulfillable    = Errno{Code: 20501, Message: "unfulfillable request"}
)

// External collaborator errors (30000+)
var (
	ErrNetwork  = Errno{Code: 30101, Message: "network error"}
	ErrRejected = Errno{Code: 30201, Message: "rejected by network"}
	ErrInFlight = Errno{Code: 30202, Message: "transaction is already being broadcast"}
	ErrDevice   = Errno{Code: 30301, Message: "device error"}
)
