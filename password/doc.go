// Package password hashes and verifies stored credentials for the
// authentication providers.
//
// Two schemes are supported. [Argon2] writes argon2id PHC strings and is the
// default for new hashes. [Bcrypt] exists for credential tables imported from
// systems that stored bcrypt hashes. [Verify] dispatches on the encoded prefix,
// so a provider can hold both kinds side by side.
//
// This package never stores passwords and never logs them.
package password
