package errs

import "errors"

var (
	ErrDuplicateJob   = errors.New("job with the same dedup key is still outstanding")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotActive   = errors.New("job is not active for this worker")
	ErrEntityNotFound = errors.New("entity not found")
	ErrNoTenant       = errors.New("no tenant context")
)

// permanentError 标记不应重试的失败
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装错误，runner 遇到后直接进入死信队列
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
