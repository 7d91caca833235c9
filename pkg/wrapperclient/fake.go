package wrapperclient

import (
	"context"
	"sync"

	"github.com/greenprompt/registry/pkg/types"
)

// Fake is an in-memory Adapter used by the loop and registry tests. Each
// remote operation answers from a scripted error (nil means success) and
// records that it was called.
type Fake struct {
	mu sync.Mutex

	Addr string

	DeployErr  error
	StopErr    error
	StatusErr  error
	InstallErr error
	RestartErr error

	// StatusValue is what Status reports when StatusErr is nil.
	StatusValue types.WrapperStatus

	DeployCalls  []string // configs passed to Deploy
	StopCalls    int
	StatusCalls  int
	InstallCalls int
	RestartCalls int
}

// NewFake creates a fake adapter for the given address reporting idle.
func NewFake(address string) *Fake {
	return &Fake{Addr: address, StatusValue: types.WrapperStatusIdle}
}

func (f *Fake) Address() string { return f.Addr }

func (f *Fake) Deploy(ctx context.Context, config string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeployCalls = append(f.DeployCalls, config)
	return f.DeployErr
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls++
	return f.StopErr
}

func (f *Fake) Status(ctx context.Context) (types.WrapperStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if f.StatusErr != nil {
		return "", f.StatusErr
	}
	return f.StatusValue, nil
}

func (f *Fake) Install(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InstallCalls++
	return f.InstallErr
}

func (f *Fake) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestartCalls++
	return f.RestartErr
}
