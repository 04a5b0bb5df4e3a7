// Package database provides the PostgreSQL pool for the message archive and
// the embedded schema migrations.
package database
