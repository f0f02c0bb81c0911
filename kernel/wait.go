package kernel

import (
	"sync"
	"time"
)

// condvar_t is a condition variable whose waiters block on a channel
// that kernel_broadcast replaces. This is the channel-based analogue
// of a textbook CV: it supports the one operation BiscuitOS's own
// sizedump() cares enough about to account for (unsafe.Sizeof(sync.Cond{}))
// while also supporting a timed wait, which sync.Cond cannot do without
// a helper goroutine racing the caller for the lock. Every wait call
// here releases the kernel lock for the duration of the wait and
// reacquires it before returning, exactly as kernel_wait/kernel_timedwait
// are specified to (spec.md 4.A, 5).
type condvar_t struct {
	ch chan struct{}
}

func newCondvar() *condvar_t {
	return &condvar_t{ch: make(chan struct{})}
}

// Kernel bundles the single global kernel lock and the fixed-capacity
// tables it guards (process table, port map). Packaging this as a
// struct instead of package-level globals (the way BiscuitOS's
// proclock/allprocs/physmem are) lets tests and cmd/tinykerneld run
// several independent kernels in one process; it changes no invariant,
// ordering guarantee, or sentinel contract from spec.md.
type Kernel struct {
	mu sync.Mutex

	procs    [MaxProc]*pcb_t
	freeHead int // -1 when the freelist is empty

	portMap [MaxPort + 1]*scb_t

	pidCounter Pid
	tidCounter Tid
}

// kernelWait blocks the calling goroutine on cv until the next
// kernel_broadcast/kernel_signal, exactly mirroring kernel_wait's
// "atomically release and reacquire the global mutex" contract.
// Callers must already hold k.mu and must re-check their predicate
// after this returns (spurious/broadcast-wake safe, spec.md 5).
func (k *Kernel) kernelWait(cv *condvar_t, class SchedClass) {
	ch := cv.ch
	k.mu.Unlock()
	<-ch
	k.mu.Lock()
}

// kernelTimedWait is kernelWait bounded by d. It returns true if a
// broadcast woke it and false if d elapsed first, the same sense as
// kernel_timedwait's "not timed out" result.
func (k *Kernel) kernelTimedWait(cv *condvar_t, class SchedClass, d time.Duration) bool {
	ch := cv.ch
	k.mu.Unlock()
	defer k.mu.Lock()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

// kernelBroadcast wakes every waiter on cv. Every wait loop in this
// package re-checks its predicate on wake, so a broadcast is always a
// safe (if occasionally redundant) substitute for a single signal —
// spec.md 5 notes the CV itself gives no FIFO guarantee either way.
func (k *Kernel) kernelBroadcast(cv *condvar_t) {
	close(cv.ch)
	cv.ch = make(chan struct{})
}

// kernelSignal exists as a distinctly named call site for the handful
// of places spec.md describes as signalling (not broadcasting) a CV
// with exactly one waiter (a connection request's connected_cv). It is
// implemented identically to kernelBroadcast for the reason above.
func (k *Kernel) kernelSignal(cv *condvar_t) {
	k.kernelBroadcast(cv)
}

// spawnThread is the scheduler-substitute's spawn_thread: it starts a
// goroutine standing in for a kernel thread and returns once the
// goroutine has been launched. The entry runs without k.mu held.
func spawnThread(entry func()) {
	go entry()
}
