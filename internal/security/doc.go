// Package security holds the client-side cryptography: decoding token-login credentials, signing the canonical
// login payload, and verifying server-issued access tokens against the public key carried in the token set.
package security
