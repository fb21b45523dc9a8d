package localloop

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger            *logiface.Logger[logiface.Event]
	pollEventCapacity int
}

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithLogger sets the logger used for runtime diagnostics. A nil logger
// (the default) disables logging without any conditionals at call sites.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollEventCapacity sets the number of readiness events the reactor
// requests per poll. Larger values amortize poll syscalls under high fan-in
// at the cost of a bigger resident buffer. Defaults to 128.
func WithPollEventCapacity(capacity int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if capacity <= 0 {
			return fmt.Errorf("localloop: poll event capacity must be positive, got %d", capacity)
		}
		opts.pollEventCapacity = capacity
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		pollEventCapacity: 128, // default
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
