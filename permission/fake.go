package permission

import (
	"context"
	"sync"
)

// FakeAuthorizer scripts platform grant behavior for tests. GrantOnRequest
// controls whether a request resolves to Authorized or Denied; RequestGate,
// when set, makes Request suspend until the gate channel is signaled,
// simulating a pending user prompt.
type FakeAuthorizer struct {
	mu             sync.Mutex
	status         map[Capability]Status
	GrantOnRequest bool
	RequestGate    chan struct{}
}

func NewFakeAuthorizer(grant bool) *FakeAuthorizer {
	return &FakeAuthorizer{
		status:         map[Capability]Status{},
		GrantOnRequest: grant,
	}
}

func (f *FakeAuthorizer) SetStatus(c Capability, s Status) {
	f.mu.Lock()
	f.status[c] = s
	f.mu.Unlock()
}

func (f *FakeAuthorizer) Status(c Capability) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[c]
}

func (f *FakeAuthorizer) Request(ctx context.Context, c Capability) (Status, error) {
	if f.RequestGate != nil {
		select {
		case <-f.RequestGate:
		case <-ctx.Done():
			return f.Status(c), ctx.Err()
		}
	}
	next := Denied
	if f.GrantOnRequest {
		next = Authorized
	}
	f.SetStatus(c, next)
	return next, nil
}
