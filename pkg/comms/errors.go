package comms

import "errors"

var (
	// ErrDuplicateHandler для типа уже зарегистрирован обработчик
	ErrDuplicateHandler = errors.New("обработчик уже зарегистрирован")
	// ErrMalformedFrame кадр не разбирается
	ErrMalformedFrame = errors.New("некорректный кадр")
	// ErrFrameTooLarge длина кадра больше MaxFrameSize
	ErrFrameTooLarge = errors.New("кадр слишком большой")
	// ErrUnknownMessage тип сообщения не поддерживается получателем
	ErrUnknownMessage = errors.New("неизвестный тип сообщения")
	// ErrNotConnected нет соединения с менеджером
	ErrNotConnected = errors.New("нет соединения")
)
