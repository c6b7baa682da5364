// Package fault decides where a coordinator simulates a crash.
package fault

import (
	"math/rand"
	"sync"
	"time"

	"github.com/vadiminshakov/threepc/core/dto"
)

// DefaultCrashProbability is the chance of a crash at each checkpoint.
const DefaultCrashProbability = 1.0 / 6

// Injector is consulted at every crash checkpoint. Returning true makes the
// caller stop immediately and silently.
type Injector interface {
	Crash(checkpoint dto.State) bool
}

// Func adapts a function to the Injector interface.
type Func func(checkpoint dto.State) bool

func (f Func) Crash(checkpoint dto.State) bool {
	return f(checkpoint)
}

// Never returns an injector that never crashes.
func Never() Injector {
	return Func(func(dto.State) bool { return false })
}

// At returns an injector that crashes at the first of the given checkpoints reached.
func At(checkpoints ...dto.State) Injector {
	set := make(map[dto.State]struct{}, len(checkpoints))
	for _, c := range checkpoints {
		set[c] = struct{}{}
	}

	return Func(func(checkpoint dto.State) bool {
		_, ok := set[checkpoint]
		return ok
	})
}

type random struct {
	mu  sync.Mutex
	rnd *rand.Rand
	p   float64
}

// Random returns an injector that crashes with probability p at every checkpoint.
func Random(p float64) Injector {
	return RandomWithSource(p, rand.NewSource(time.Now().UnixNano()))
}

// RandomWithSource is Random with a caller-provided source, for reproducible runs.
func RandomWithSource(p float64, src rand.Source) Injector {
	return &random{rnd: rand.New(src), p: p}
}

func (r *random) Crash(dto.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64() < r.p
}
