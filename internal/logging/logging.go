// Package logging provides the single shared logrus logger used across
// the engine's components, each tagged with its own "component" field.
package logging

import "github.com/sirupsen/logrus"

// Base is the shared logger instance. Tests may redirect its output or
// raise its level; production callers leave it at the default.
var Base = logrus.New()

// Entry is the scoped logger type For returns, aliased so callers
// don't need their own logrus import just to name the type.
type Entry = logrus.Entry

// For returns a logger scoped to a named component, e.g. "wal", "memtable".
func For(component string) *Entry {
	return Base.WithField("component", component)
}
