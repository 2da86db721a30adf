package access

import (
	"context"
	"errors"
)

// Checker verifies one credential. It matches the rule engine's
// CredentialChecker.
type Checker interface {
	Verify(ctx context.Context, credential string) (bool, error)
}

type anyOf []Checker

// AnyOf accepts a credential when any checker accepts it. Errors from
// checkers that did not accept are returned only if none accepted.
func AnyOf(checkers ...Checker) Checker {
	return anyOf(checkers)
}

func (a anyOf) Verify(ctx context.Context, credential string) (bool, error) {
	var errs []error
	for _, c := range a {
		if c == nil {
			continue
		}
		ok, err := c.Verify(ctx, credential)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}
