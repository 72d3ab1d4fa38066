package repositories

import (
	"context"
	"errors"
)

// RegistryDeps lists the stores the static registry hands out. Master,
// Primary, Fallback, and Sessions are required; Closers run in order when the
// registry is closed.
type RegistryDeps struct {
	Master   MasterDataRepository
	Primary  SubmissionLogRepository
	Fallback SubmissionLogRepository
	Sessions SessionRepository
	Closers  []func(ctx context.Context) error
}

type staticRegistry struct {
	master   MasterDataRepository
	primary  SubmissionLogRepository
	fallback SubmissionLogRepository
	sessions SessionRepository
	closers  []func(ctx context.Context) error
}

// NewRegistry bundles already-constructed stores into a Registry.
func NewRegistry(deps RegistryDeps) (Registry, error) {
	if deps.Master == nil {
		return nil, errors.New("registry: master data repository is required")
	}
	if deps.Primary == nil {
		return nil, errors.New("registry: primary submission log is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("registry: fallback submission log is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("registry: session repository is required")
	}
	return &staticRegistry{
		master:   deps.Master,
		primary:  deps.Primary,
		fallback: deps.Fallback,
		sessions: deps.Sessions,
		closers:  deps.Closers,
	}, nil
}

func (r *staticRegistry) Master() MasterDataRepository      { return r.master }
func (r *staticRegistry) Primary() SubmissionLogRepository  { return r.primary }
func (r *staticRegistry) Fallback() SubmissionLogRepository { return r.fallback }
func (r *staticRegistry) Sessions() SessionRepository       { return r.sessions }

func (r *staticRegistry) Close(ctx context.Context) error {
	var errs []error
	for _, closeFn := range r.closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
