package gatestate

import "errors"

var (
	ErrClosed        = errors.New("gate state store closed")
	ErrInvalidRecord = errors.New("conversion record is not a JSON object")
)
