package util

// A Gate limits concurrency. Each gate allows at most n goroutines inside at
// a time. A goroutine enters by calling Enter() and signals that it is done
// by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which admits at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks the calling goroutine until there are fewer than n goroutines
// inside the gate. Safe to call from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave marks the goroutine as outside the protected section. Balance each
// call to Enter with a call to Leave. The calls do not need to come from the
// same goroutine.
func (g Gate) Leave() {
	<-g
}
