package credstore

import "errors"

// ErrInvalidPassword is returned by Decrypt when the AES-GCM
// authentication tag does not verify. It is retryable up to
// Store.maxAttempts.
var ErrInvalidPassword = errors.New("credstore: invalid password")

// ErrMalformed is returned when a ciphertext/salt pair cannot be parsed
// (wrong length, truncated nonce, etc). It is fatal for that credential.
var ErrMalformed = errors.New("credstore: malformed encrypted credential")

// ErrAttemptsExhausted is returned once a credential's retry budget for
// password prompts has been spent.
var ErrAttemptsExhausted = errors.New("credstore: password attempt budget exhausted")
