package errors

import (
	"errors"
	"fmt"

	"botflow/pkg/errors/ecode"
)

// 携带业务错误码的error，response层通过DecodeErr还原
type codeError struct {
	code    int
	message string
	cause   error
}

func (e *codeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *codeError) Unwrap() error { return e.cause }

// WithCode 创建一个带业务码的错误
func WithCode(code int, message string) error {
	if message == "" {
		message = ecode.Message(code)
	}
	return &codeError{code: code, message: message}
}

// Wrap 包装底层错误并附加业务码
func Wrap(err error, code int, message string) error {
	if message == "" {
		message = ecode.Message(code)
	}
	return &codeError{code: code, message: message, cause: err}
}

// DecodeErr 解出业务码和提示信息，nil视为成功
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Message(ecode.Success)
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code, ce.message
	}
	return ecode.Unknown, err.Error()
}

func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool {
	return errors.As(err, target)
}
func New(text string) error { return errors.New(text) }
