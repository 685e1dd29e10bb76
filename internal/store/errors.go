package store

import "errors"

var (
	// ErrEmptyModel indicates a model name parameter is missing or empty
	ErrEmptyModel = errors.New("empty_model")
)
