package automation

import (
	"context"
	"crypto/subtle"
)

// CredentialChecker verifies disarm credentials: RFID tag IDs and PINs.
type CredentialChecker interface {
	Verify(ctx context.Context, credential string) (bool, error)
}

// StaticCredentials accepts a fixed set of credentials from configuration.
type StaticCredentials []string

// Verify implements CredentialChecker.
func (s StaticCredentials) Verify(_ context.Context, credential string) (bool, error) {
	if credential == "" {
		return false, nil
	}
	ok := 0
	for _, c := range s {
		ok |= subtle.ConstantTimeCompare([]byte(c), []byte(credential))
	}
	return ok == 1, nil
}
