package browser

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrWaitTimeout is matched by errors returned from Driver.WaitClickable when
// the element never became interactable in time.
var ErrWaitTimeout = errors.New("wait timed out")

// LaunchError indicates the browser binary or its driver could not be started.
type LaunchError struct {
	Backend string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Backend, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NavigationError indicates the page at URL did not load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// ElementNotFoundError indicates a locator matched no element.
type ElementNotFoundError struct {
	Locator Locator
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found: %s", e.Locator)
}

// waitTimeout builds the error returned by WaitClickable on expiry.
func waitTimeout(loc Locator, cause error) error {
	if cause == nil {
		return errors.Wrap(ErrWaitTimeout, loc.String())
	}
	return errors.Wrapf(ErrWaitTimeout, "%s (%v)", loc, cause)
}
