package protocol

import "errors"

var (
	ErrNameTooLong    = errors.New("name exceeds 32 characters")
	ErrMessageTooLong = errors.New("message exceeds 256 characters")
	ErrMalformedFrame = errors.New("malformed JSON frame")
)
