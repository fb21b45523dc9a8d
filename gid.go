package localloop

import (
	"runtime"
)

// currentGID returns the current goroutine's ID by parsing the stack
// header. Used to distinguish the loop/owner goroutine from foreign
// callers on the wake and spawn paths.
func currentGID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
