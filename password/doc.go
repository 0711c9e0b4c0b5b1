// Package password provides credential hashing (argon2id, PHC-encoded) and
// password strength validation. Hashing and policy are independent: the
// policy decides whether a password is acceptable, the hasher never does.
package password
