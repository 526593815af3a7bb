package block

import "errors"

// Классы ошибок хранилища блоков.
//
// ErrContractViolation обозначает ошибку вызывающего кода (запрос буфера там, где его нет,
// испорченный буфер). Не является "не найдено" и не должна молча превращаться в значение по умолчанию.
//
// ErrBackend обозначает ошибку ввода-вывода постоянного хранилища. Передаётся тем же error,
// что и доменные ошибки; различать через errors.Is.
var (
	ErrContractViolation = errors.New("нарушение контракта вызова")
	ErrBackend           = errors.New("ошибка хранилища")
	ErrUnsupported       = errors.New("операция не поддерживается хранилищем")

	ErrUnknownID    = errors.New("идентификатор блока не зарегистрирован")
	ErrEmptyID      = errors.New("пустой идентификатор блока")
	ErrRegistryFull = errors.New("реестр блоков исчерпал 16-битное пространство состояний")
)
