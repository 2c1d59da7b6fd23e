// Package auth hashes and verifies the API key that guards mutating HTTP
// routes.
//
// Keys are stored only as Argon2id PHC strings
// ($argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>) in api.api_key_hash.
// `pentaircloud -hash-api-key` generates a key and prints its hash.
package auth
