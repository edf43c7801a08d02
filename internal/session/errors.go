package session

import "errors"

var (
	ErrInvalidConfig    = errors.New("invalid session store configuration")
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrClosed           = errors.New("session store closed")
)
