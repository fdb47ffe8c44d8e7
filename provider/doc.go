// Package provider contains the credential sources consulted at login.
//
// [StaticProvider] serves a fixed user table loaded from YAML and is meant for
// local runs and tests. [SQLProvider] reads the staff schema from SQLite or
// PostgreSQL; its tables are created by the goose migrations embedded in the
// migrations subpackage.
//
// Both return [tokenauth.ErrBadCredentials] for unknown users and wrong
// passwords alike, and both implement [tokenauth.ProfileLookup].
package provider
