//go:build !linux && !darwin

package localloop

func closeFD(int) error { return nil }

func readFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }

func writeFD(int, []byte) (int, error) { return 0, ErrUnsupportedPlatform }
