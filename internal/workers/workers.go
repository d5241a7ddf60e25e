package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Load describes what a task spends most of its time on.
type Load int

const (
	// CPUBound tasks, such as image decoding, get one worker per CPU.
	CPUBound Load = iota
	// IOBound tasks, such as network transfers, get two workers per CPU.
	IOBound
	// Mixed tasks get one and a half workers per CPU.
	Mixed
)

func (l Load) perCPU() float64 {
	switch l {
	case IOBound:
		return 2.0
	case Mixed:
		return 1.5
	default:
		return 1.0
	}
}

func (l Load) String() string {
	switch l {
	case CPUBound:
		return "cpu"
	case IOBound:
		return "io"
	case Mixed:
		return "mixed"
	default:
		return "load(" + strconv.Itoa(int(l)) + ")"
	}
}

// Size returns how many workers suit load. It scales GOMAXPROCS, which Go
// derives from the container CPU limit, never returns less than one and caps
// the result at limit when limit > 0.
//
// When envVar names a variable holding a positive integer, that value is used
// instead, still capped at limit.
func Size(load Load, limit int, envVar string) int {
	n := 0
	if envVar != "" {
		if v, err := strconv.Atoi(os.Getenv(envVar)); err == nil && v > 0 {
			n = v
		}
	}
	if n == 0 {
		n = int(float64(runtime.GOMAXPROCS(0)) * load.perCPU())
	}

	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}
