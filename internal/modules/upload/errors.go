package upload

import "errors"

var (
	ErrPayloadTooLarge = errors.New("file exceeds the maximum allowed size")
	ErrMerge           = errors.New("chunk merge error")
)
