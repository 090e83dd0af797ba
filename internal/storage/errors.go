package storage

import (
	"errors"
	"fmt"
)

// Используются для простых, бинарных проверок с помощью errors.Is()
var (
	ErrOperacionNotFound  = errors.New("операция не найдена")
	ErrMatchNotFound      = errors.New("утилизируемый матч не найден")
	ErrPendienteNotFound  = errors.New("pendiente-матч не найден")
	ErrMontoInvalido      = errors.New("сумма операции должна быть положительной")
	ErrSinPaises          = errors.New("у операции должна быть хотя бы одна страна")
	ErrOperacionDuplicada = errors.New("операция с такой суммой и набором стран уже существует")
	ErrOpenDatabase       = errors.New("не удалось открыть базу данных")
	ErrConnectDatabase    = errors.New("не удалось подключиться к базе данных")
)

// Используются для передачи дополнительного контекста об ошибке с помощью errors.As()
// Коды ошибок для TransitionError, чтобы вызывающий код мог легко их различить.
type TxErrCode int

const (
	CodeUnknown TxErrCode = iota
	CodeMatchNotFound
	CodePendienteNotFound
	CodeOperacionNotFound
	CodeInternalError
)

// TransitionError инкапсулирует любую ошибку, произошедшую во время
// перехода пары по жизненному циклу (confirm, conclude и т.п.).
// ID — идентификатор записи, к которой относился переход.
type TransitionError struct {
	Code        TxErrCode
	ID          int64
	OriginalErr error
}

// для совместимости с интерфейсом error.
func (e *TransitionError) Error() string {
	switch e.Code {
	case CodeMatchNotFound:
		return fmt.Sprintf("матч %d не найден", e.ID)
	case CodePendienteNotFound:
		return fmt.Sprintf("pendiente %d не найден", e.ID)
	case CodeOperacionNotFound:
		return fmt.Sprintf("операция %d не найдена", e.ID)
	case CodeInternalError:
		return fmt.Sprintf("внутренняя ошибка перехода: %v", e.OriginalErr)
	default:
		return fmt.Sprintf("неизвестная ошибка перехода: %v", e.OriginalErr)
	}
}

// Unwrap позволяет errors.Is и errors.As "заглянуть" в исходную ошибку.
func (e *TransitionError) Unwrap() error {
	return e.OriginalErr
}
