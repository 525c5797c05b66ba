package session

import "github.com/pkg/errors"

var (
	// ErrInvalidState операция недопустима в текущем состоянии сессии
	ErrInvalidState = errors.New("session: operation not allowed in current state")

	// ErrBusy выполняется другая операция сессии
	ErrBusy = errors.New("session: another operation in progress")

	// ErrTerminated сессия завершилась во время операции
	ErrTerminated = errors.New("session: terminated")

	// ErrNoPeerConnection соединение медиа движка не создано
	ErrNoPeerConnection = errors.New("session: no peer connection")

	// ErrTimeout запрос не получил ответа вовремя
	ErrTimeout = errors.New("session: request timed out")

	// ErrInvalidArgument некорректный аргумент операции
	ErrInvalidArgument = errors.New("session: invalid argument")
)
