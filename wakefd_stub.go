//go:build !linux && !darwin

package localloop

// createWakeFd is unreachable on unsupported platforms: New fails when the
// poller stub refuses to initialise, before the wake pipe is created.
func createWakeFd() (readFd, writeFd int, err error) {
	return -1, -1, ErrUnsupportedPlatform
}
