// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrSetup marks failures to start or prepare the browser.
var ErrSetup = errors.New("browser setup failed")

// NavigationError is returned when a page load fails.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// transientNetErrors are Chrome net error codes that indicate a transport
// problem rather than a broken page.
var transientNetErrors = []string{
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_CONNECTION_REFUSED",
	"net::ERR_CONNECTION_RESET",
	"net::ERR_CONNECTION_CLOSED",
	"net::ERR_CONNECTION_ABORTED",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_TIMED_OUT",
	"net::ERR_INTERNET_DISCONNECTED",
	"net::ERR_ADDRESS_UNREACHABLE",
	"net::ERR_NETWORK_CHANGED",
	"net::ERR_EMPTY_RESPONSE",
}

// IsTransient reports whether err is a network-class navigation failure
// worth retrying. A cancelled context is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var nav *NavigationError
	if !errors.As(err, &nav) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, code := range transientNetErrors {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
