// Package auth provides the authentication status types switchboard exposes
// to API clients and the CLI.
//
// The types describe whether a plugin instance is connected and by which
// method. They intentionally contain no tokens or keys.
package auth
