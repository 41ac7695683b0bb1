// Package database holds helpers shared by the SQL-backed stores.
package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds single-row reads.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds single-row writes.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMigrateTimeout bounds schema migrations at startup.
	DefaultMigrateTimeout = 30 * time.Second
)

// QueryContext derives a context limited to DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// MigrateContext derives a context limited to DefaultMigrateTimeout.
func MigrateContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultMigrateTimeout)
}

// WriteContext derives a context limited to DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}
