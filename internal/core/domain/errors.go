package domain

import "errors"

var (
	ErrValidationRejected = errors.New("validation rejected")
	ErrTransientIO        = errors.New("transient io error")
	ErrPersistence        = errors.New("persistence error")
)
