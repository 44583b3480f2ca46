package briefing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ScopeGlobal is the shared briefing scope used when no user is targeted.
const ScopeGlobal = "global"

const userScopePrefix = "user:"

// ErrInvalidScope is returned for scope strings that are neither "global"
// nor "user:<uuid>".
var ErrInvalidScope = errors.New("invalid briefing scope")

// ParseScope validates a briefing scope string. Accepted forms are "global"
// and "user:<uuid>". The returned scope is normalized to lower case.
func ParseScope(raw string) (string, error) {
	scope := strings.ToLower(strings.TrimSpace(raw))
	if scope == "" || scope == ScopeGlobal {
		return ScopeGlobal, nil
	}
	if rest, ok := strings.CutPrefix(scope, userScopePrefix); ok {
		id, err := uuid.Parse(rest)
		if err != nil {
			return "", fmt.Errorf("%w %q: %v", ErrInvalidScope, raw, err)
		}
		return userScopePrefix + id.String(), nil
	}
	return "", fmt.Errorf("%w %q: expected %q or %q<uuid>", ErrInvalidScope, raw, ScopeGlobal, userScopePrefix)
}
