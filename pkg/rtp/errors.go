package rtp

import (
	"errors"
	"fmt"
	"net"
)

// FrameErrorCode типизированные коды ошибок построения и разбора кадра
type FrameErrorCode int

const (
	ErrorCodeSequenceUnset FrameErrorCode = iota + 2000
	ErrorCodeTimestampUnset
	ErrorCodeNoTransmitters
	ErrorCodeInvalidTransmitter
	ErrorCodeMissingPayload
	ErrorCodeInvalidPayloadSize
	ErrorCodeInvalidPacketSize
	ErrorCodeInvalidHeader
)

// String возвращает строковое представление кода ошибки
func (code FrameErrorCode) String() string {
	switch code {
	case ErrorCodeSequenceUnset:
		return "SequenceUnset"
	case ErrorCodeTimestampUnset:
		return "TimestampUnset"
	case ErrorCodeNoTransmitters:
		return "NoTransmitters"
	case ErrorCodeInvalidTransmitter:
		return "InvalidTransmitter"
	case ErrorCodeMissingPayload:
		return "MissingPayload"
	case ErrorCodeInvalidPayloadSize:
		return "InvalidPayloadSize"
	case ErrorCodeInvalidPacketSize:
		return "InvalidPacketSize"
	case ErrorCodeInvalidHeader:
		return "InvalidHeader"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// FrameError ошибка построения или разбора кадра.
// Field указывает на поле кадра, вызвавшее ошибку.
type FrameError struct {
	Code    FrameErrorCode
	Field   string
	Message string
}

func newFrameError(code FrameErrorCode, field, message string) *FrameError {
	return &FrameError{Code: code, Field: field, Message: message}
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("[кадр:%s] %s: %s", e.Code, e.Field, e.Message)
}

// Is сравнивает ошибки по коду
func (e *FrameError) Is(target error) bool {
	if t, ok := target.(*FrameError); ok {
		return e.Code == t.Code
	}
	return false
}

// IsConstructionError проверяет является ли err ошибкой построения кадра
func IsConstructionError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// Предопределенные ошибки для сравнения через errors.Is
var (
	ErrSequenceUnset      = &FrameError{Code: ErrorCodeSequenceUnset}
	ErrTimestampUnset     = &FrameError{Code: ErrorCodeTimestampUnset}
	ErrNoTransmitters     = &FrameError{Code: ErrorCodeNoTransmitters}
	ErrInvalidTransmitter = &FrameError{Code: ErrorCodeInvalidTransmitter}
	ErrMissingPayload     = &FrameError{Code: ErrorCodeMissingPayload}
	ErrInvalidPayloadSize = &FrameError{Code: ErrorCodeInvalidPayloadSize}
	ErrInvalidPacketSize  = &FrameError{Code: ErrorCodeInvalidPacketSize}
)

// errTransportInactive операция на закрытом транспорте
var errTransportInactive = fmt.Errorf("транспорт не активен: %w", net.ErrClosed)

// NetworkErrorType определяет типы сетевых ошибок
type NetworkErrorType int

const (
	ErrorTypePermanent NetworkErrorType = iota // повтор бессмыслен
	ErrorTypeTimeout                           // таймаут чтения, нормальное поведение
	ErrorTypeConnection                        // проблемы соединения
	ErrorTypeUnknown
)

func (t NetworkErrorType) String() string {
	switch t {
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// ClassifiedError обертка для сетевых ошибок с классификацией
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s (type: %s, retryable: %t)",
		e.Operation, e.Err.Error(), e.Type, e.Retryable)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// IsTimeout true для таймаута чтения
func IsTimeout(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeTimeout
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsRetryable false, если повторять операцию на транспорте бессмысленно:
// сокет закрыт либо ошибка постоянная. Неклассифицированные ошибки
// считаются повторяемыми.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return !errors.Is(err, net.ErrClosed)
}

// classifyNetworkError анализирует сетевую ошибку
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
		Retryable: true,
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		classified.Type = ErrorTypeTimeout
		return classified
	}

	switch {
	case errors.Is(err, net.ErrClosed):
		classified.Type = ErrorTypePermanent
		classified.Retryable = false
	case containsAny(err.Error(), connectionErrors):
		classified.Type = ErrorTypeConnection
	case containsAny(err.Error(), permanentErrors):
		classified.Type = ErrorTypePermanent
		classified.Retryable = false
	}

	return classified
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"host is unreachable",
	"no route to host",
}

var permanentErrors = []string{
	"invalid argument",
	"address family not supported",
	"permission denied",
	"operation not supported",
}
