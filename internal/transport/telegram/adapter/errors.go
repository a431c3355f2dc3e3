package adapter

import "fmt"

// errorsJoin wraps cause under sentinel so errors.Is matches both.
func errorsJoin(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
