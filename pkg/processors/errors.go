package processors

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stagehand/pkg/invoker"
)

var (
	ErrExternalCallFailed = errors.New("external call failed")
	ErrUnknownProcessor   = errors.New("unknown processor")
	ErrDuplicateProcessor = errors.New("processor already registered")
)

// ExternalCallFailedError carries the raw diagnostic text of a collaborator
// that returned a non-success result.
type ExternalCallFailedError struct {
	Identity   string
	StatusCode int
	StatusText string
}

func (e *ExternalCallFailedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s: %s", ErrExternalCallFailed, e.Identity, e.StatusText)
	}
	return fmt.Sprintf("%s: %s: status %d: %s", ErrExternalCallFailed, e.Identity, e.StatusCode, e.StatusText)
}

func (e *ExternalCallFailedError) Is(target error) bool { return target == ErrExternalCallFailed }

func NewExternalCallFailed(identity string, resp *invoker.Response) *ExternalCallFailedError {
	return &ExternalCallFailedError{
		Identity:   identity,
		StatusCode: resp.StatusCode,
		StatusText: resp.StatusText,
	}
}

// ExternalCallError turns an error returned by a client library into an
// ExternalCallFailedError, keeping its text verbatim.
func ExternalCallError(identity string, err error) *ExternalCallFailedError {
	return &ExternalCallFailedError{Identity: identity, StatusText: err.Error()}
}
