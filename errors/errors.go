package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrEmptyWords       = fmt.Errorf("no words have been found")
	ErrEmptyUserID      = fmt.Errorf("userId is required")
	ErrEmptyContent     = fmt.Errorf("content is required")
	ErrContentTooLarge  = fmt.Errorf("content exceeds the maximum payload size")
	ErrInvalidMedia     = fmt.Errorf("media content must be base64 or a data URI")
	ErrConnectionClosed = fmt.Errorf("connection is closed")
)
