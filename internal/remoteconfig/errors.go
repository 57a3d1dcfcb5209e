package remoteconfig

import (
	"errors"
	"fmt"
)

var errEmptyBody = errors.New("empty response body")

// statusError reports a non-2xx response status.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
