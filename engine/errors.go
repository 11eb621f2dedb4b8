package engine

import "errors"

// ErrKeyNotFound is returned by Get when a key is absent or tombstoned.
var ErrKeyNotFound = errors.New("lsmkv: key not found")

// ErrKeyEmpty is returned by Put/Delete/Get for an empty key.
var ErrKeyEmpty = errors.New("lsmkv: key must not be empty")

// ErrClosed is returned by any operation on a closed Engine.
var ErrClosed = errors.New("lsmkv: engine is closed")
