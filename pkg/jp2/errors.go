package jp2

import (
	"errors"
	"fmt"
)

// Failure classes. Data problems (ErrFormat, ErrCodec, ErrInvalidRegion)
// come back from Decode, ReadHeader and Encode; parameter problems
// (ErrInvalidParameter) come back from the setter that received them.
var (
	ErrFormat           = errors.New("not a readable JPEG 2000 stream")
	ErrCodec            = errors.New("codec failure")
	ErrWrite            = errors.New("write failure")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidRegion    = errors.New("region does not intersect the image")
	ErrConsumed         = errors.New("request already consumed")
)

// ParamError describes a rejected parameter
type ParamError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Param, e.Value, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidParameter) hold
func (e *ParamError) Unwrap() error {
	return ErrInvalidParameter
}

func invalid(param string, value any, reason string) error {
	return &ParamError{Param: param, Value: value, Reason: reason}
}
