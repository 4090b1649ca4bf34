package errs

import "github.com/stratadb/stratadb/pkg/value"

// FromValidation converts a pkg/value validation error into the matching
// taxonomy member. Every other error is returned unchanged — this is
// the one translation point permitted by §7's wrap-never-erase policy,
// because value.ValidationError/KeyKindError are not yet StrataErrors.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *value.ValidationError:
		// The reserved prefix is a key-validity failure, not a sizing
		// constraint: callers get InvalidKey{reserved_prefix}.
		if e.Reason == value.ViolationReservedPrefix {
			return InvalidKey(string(e.Reason))
		}
		return ConstraintViolation(string(e.Reason))
	case *value.KeyKindError:
		return InvalidKey(e.Detail)
	default:
		return err
	}
}
