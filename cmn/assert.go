package cmn

import "fmt"

// Assert* panic on violated invariants. They exist for conditions that a
// correct caller can never trigger — not for recoverable runtime errors.

func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %v", err))
	}
}
