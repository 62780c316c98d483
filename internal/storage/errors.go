package storage

import "errors"

var (
	ErrStoreClosed        = errors.New("store is closed")
	ErrWriteTimeout       = errors.New("write operation timeout")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
