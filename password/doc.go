// Package password implements password hashing and verification with
// argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports hashes produced with weaker parameters
// than the current config so callers can re-hash on the next successful
// login. The package never stores passwords and never logs plaintext.
package password
