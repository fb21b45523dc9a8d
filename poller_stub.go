//go:build !linux && !darwin

package localloop

// poller stub for platforms without a native readiness backend. New fails
// with ErrUnsupportedPlatform, so none of the other methods are reachable.
type poller struct{}

func (p *poller) init(int) error { return ErrUnsupportedPlatform }

func (p *poller) close() error { return nil }

func (p *poller) add(int, Interest) error { return ErrUnsupportedPlatform }

func (p *poller) mod(int, Interest, Interest) error { return ErrUnsupportedPlatform }

func (p *poller) del(int, Interest) error { return ErrUnsupportedPlatform }

func (p *poller) wait(int, func(int, Readiness)) (int, error) {
	return 0, ErrUnsupportedPlatform
}
