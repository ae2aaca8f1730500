package queue

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxDestinationLen = 64

var (
	ErrInvalidDestination = errors.New("invalid queue destination")
	destinationPattern    = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
)

// ParseDestination validates a destination name before it becomes part of a
// stream key. Case and surrounding space are normalised; anything else that
// is not a lower-case slug is rejected rather than rewritten.
func ParseDestination(raw string) (string, error) {
	dest := strings.ToLower(strings.TrimSpace(raw))
	if dest == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if len(dest) > maxDestinationLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDestination, maxDestinationLen)
	}
	if !destinationPattern.MatchString(dest) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, raw)
	}
	return dest, nil
}
