//go:build linux || darwin

package localloop_test

import (
	"context"
	"fmt"
	"time"

	localloop "github.com/joeycumines/go-localloop"
)

func ExampleRun() {
	err := localloop.Run(localloop.PollFunc(func(cx *localloop.Context) bool {
		fmt.Println("hello from the loop")
		return true
	}))
	fmt.Println(err)
	// Output:
	// hello from the loop
	// <nil>
}

func ExampleRuntime_RunUntil() {
	rt, err := localloop.New()
	if err != nil {
		panic(err)
	}
	defer rt.Close()

	// Spawn background work, then drive a root future to completion. The
	// spawned task progresses while the root runs.
	ticks := 0
	rt.Spawn(localloop.PollFunc(func(cx *localloop.Context) bool {
		ticks++
		if ticks >= 3 {
			return true
		}
		cx.Waker().Wake() // run again next turn
		return false
	}))

	if err := rt.RunUntil(context.Background(), localloop.Sleep(time.Millisecond)); err != nil {
		panic(err)
	}
	if err := rt.RunAll(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println("ticks:", ticks)
	// Output:
	// ticks: 3
}
