package engine

import "errors"

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrEmptyKey      = errors.New("storage: empty key")
	ErrClosed        = errors.New("storage: engine closed")
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrTooLarge 单次提交超出 badger 事务上限
	ErrTooLarge = errors.New("storage: write too large")

	// ErrConflict 并发事务冲突，调用方可重试
	ErrConflict = errors.New("storage: write conflict")
)

// IsNotFound 键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
