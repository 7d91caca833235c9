package wrapperclient

import (
	"context"
	"errors"

	"github.com/greenprompt/registry/pkg/types"
)

var (
	// ErrUnreachable marks a transport failure or timeout talking to the
	// wrapper host. The control loops treat it as a recoverable outage.
	ErrUnreachable = errors.New("wrapper unreachable")

	// ErrRejected marks a well-formed negative reply from the wrapper.
	ErrRejected = errors.New("wrapper rejected command")
)

// Adapter is the capability set the registry holds per wrapper host. The
// production implementation wraps HTTP and SSH; tests substitute an
// in-memory fake.
type Adapter interface {
	// Address returns the host this adapter talks to.
	Address() string

	// Deploy instructs the host to load a model with the given serialized
	// configuration. It returns once the host reports readiness.
	Deploy(ctx context.Context, config string) error

	// Stop instructs the host to unload its current model.
	Stop(ctx context.Context) error

	// Status reports the host's self-assessed status.
	Status(ctx context.Context) (types.WrapperStatus, error)

	// Install provisions the wrapper software on a bare host. Idempotent
	// and long-running.
	Install(ctx context.Context) error

	// Restart restarts the wrapper service on the host.
	Restart(ctx context.Context) error
}

// Factory builds an adapter for one host. The registry uses it to hand the
// loops real clients in production and fakes in tests.
type Factory func(address, username, password string) Adapter
