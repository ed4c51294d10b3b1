// Package database provides the optional PostgreSQL pool used to persist
// client preferences across restarts.
package database
