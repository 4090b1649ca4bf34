package key

import "github.com/stratadb/stratadb/pkg/value"

// Validate re-checks the user-key portion of k against limits by applying
// value.ValidateKey to k.User. The primitive packages call value.ValidateKey
// on their user keys directly rather than going through this helper.
func Validate(k Key, limits value.Limits) error {
	return value.ValidateKey(k.User, limits)
}
