package core

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedType   = errors.New("unsupported document type")
	ErrBucketNotFound    = errors.New("bucket does not exist")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrQueueFull         = errors.New("parse queue is full")
)
