package kvvault

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"
)

// ErrSecretNotFound is the sentinel behind NotFoundError so callers can use
// errors.Is without caring about the mount or path.
var ErrSecretNotFound = errors.New("vault secret not found")

// NotFoundError reports that no secret exists under the client's mount at the
// given path. Returned from reads and lists when Vault answers 404-style, and
// from DeleteLatest when the server reports the path missing.
type NotFoundError struct {
	Mount string
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret not found at %s/%s", e.Mount, e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return ErrSecretNotFound
}

// TransportError wraps any Vault API, protocol, serialization, or
// connectivity failure that is not a not-found. The underlying cause is
// available through errors.Unwrap.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("vault %s %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError reports invalid construction parameters. It is only ever
// returned synchronously from NewClient.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid vault client configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if the error is a kvvault not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}

// notFoundStatus reports whether the Vault SDK surfaced a 404.
// The SDK wraps a 404 into an *api.ResponseError with StatusCode 404.
func notFoundStatus(err error) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
