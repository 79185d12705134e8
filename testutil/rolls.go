package testutil

import "sync"

// Rolls is a scripted randomness source. Float64 and Intn pop from their
// queues; once a queue is empty Float64 returns 0.999 (every chance fails)
// and Intn returns 0.
type Rolls struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int
}

func NewRolls(floats []float64, ints []int) *Rolls {
	return &Rolls{Floats: floats, Ints: ints}
}

func (r *Rolls) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Floats) == 0 {
		return 0.999
	}
	f := r.Floats[0]
	r.Floats = r.Floats[1:]
	return f
}

func (r *Rolls) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Ints) == 0 {
		return 0
	}
	i := r.Ints[0]
	r.Ints = r.Ints[1:]
	if i >= n {
		i = n - 1
	}
	return i
}

// Push appends more scripted values.
func (r *Rolls) Push(floats []float64, ints ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Floats = append(r.Floats, floats...)
	r.Ints = append(r.Ints, ints...)
}
