package runner

import (
	"errors"
	"fmt"
)

type modelNotFoundError struct {
	id string
}

func (e modelNotFoundError) Error() string {
	if e.id == "" {
		return "no model requested and no default model configured"
	}
	return fmt.Sprintf("model not found: %s", e.id)
}

// IsModelNotFound reports whether err indicates an unknown model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}
