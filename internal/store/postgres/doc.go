// Package postgres implements the plugin instance registry and the
// conversation repository on PostgreSQL through pgx.
//
// Read-modify-write operations run in a transaction that locks the row with
// SELECT ... FOR UPDATE, so concurrent token refreshes or conversation
// transitions against the same row are applied one after another.
package postgres
