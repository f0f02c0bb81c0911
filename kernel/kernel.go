package kernel

import (
	"github.com/tinyos-go/corekernel/kernel/klog"
)

var klog_ = klog.L("kernel")

// NewKernel builds an empty kernel instance: an empty process table
// threaded into a freelist, an empty port map, and the two processes
// every BiscuitOS-style boot assumes exist before anything else runs —
// pid 0 (the root scheduler) and pid 1 (init), both parentless.
//
// It returns init's main thread handle, the context from which a caller
// (cmd/tinykerneld, or a test) issues the first Exec.
func NewKernel() (*Kernel, *Thread) {
	k := &Kernel{freeHead: -1}
	for i := MaxProc - 1; i >= 0; i-- {
		k.procs[i] = &pcb_t{}
		k.procs[i].freeNext = k.freeHead
		k.freeHead = i
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// pid 0: root scheduler. Never runs user code, never exits; its sole
	// purpose is to satisfy "the root scheduler has pid 0 ... parent = none"
	// (spec.md 3) so pid 1 has somewhere to sit in the table.
	idle := k.acquirePCBLocked()
	idle.pstate = procAlive
	idle.threadCount = 1
	idle.childExit = newCondvar()

	// pid 1: init. spec.md 4.C's "init loops WaitChild(NoProc) until all
	// children are reaped" describes init's own Exit, not a perpetual
	// background service — init's main thread here simply parks for the
	// life of the Kernel. Reaping orphans reparented to init (spec.md 6)
	// is left to whichever caller holds the init handle, driven the same
	// explicit Exec/WaitChild way every other process in this package is:
	// a generic reaper spinning on WaitChild(NoProc) would block on the
	// very same proc.childExit CV a caller's own WaitChild(cpid, ...)
	// blocks on, and kernelBroadcast gives no ordering guarantee over
	// which of the two re-acquires k.mu first. If the background reaper
	// won that race it would reap the child out from under the caller,
	// which would then loop back into kernelWait on a freshly-replaced
	// channel that nothing will ever broadcast again — a permanent hang.
	ini := k.acquirePCBLocked()
	ini.pstate = procAlive
	ini.childExit = newCondvar()
	initPT := &ptcb_t{id: k.nextTidLocked(), proc: ini, exitCv: newCondvar()}
	ini.threads = append(ini.threads, initPT)
	ini.mainThread = initPT
	ini.threadCount = 1

	initThread := &Thread{k: k, ptcb: initPT}
	spawnThread(runInitIdle)

	klog_.WithField("pid1", ini.pid).Debug("kernel bootstrapped")
	return k, initThread
}

// runInitIdle is init's body: block forever without touching k.mu. init
// stays ALIVE with thread_count == 1 for the life of the Kernel; it never
// reaps on its own, so it never competes with a caller's own WaitChild
// calls on the init handle (see the comment above NewKernel's pid 1 setup).
func runInitIdle() {
	<-make(chan struct{})
}

func (k *Kernel) acquirePCBLocked() *pcb_t {
	if k.freeHead == -1 {
		return nil
	}
	idx := k.freeHead
	p := k.procs[idx]
	k.freeHead = p.freeNext

	*p = pcb_t{pid: k.pidCounter, pstate: procAlive}
	k.pidCounter++
	return p
}

func (k *Kernel) releasePCBLocked(p *pcb_t) {
	slot := k.slotOf(p)
	*p = pcb_t{}
	p.pstate = procFree
	p.freeNext = k.freeHead
	k.freeHead = slot
}

// slotOf finds p's table slot. The process table is small and this is
// only called on the cold release path, so a linear scan (mirroring
// BiscuitOS's own willingness to do O(MAX_PROC) table scans on rare
// paths, e.g. structchk/pgcount) is an acceptable trade for keeping
// pcb_t itself free of a redundant slot-index field.
func (k *Kernel) slotOf(p *pcb_t) int {
	for i := range k.procs {
		if k.procs[i] == p {
			return i
		}
	}
	panic("pcb not in table")
}

func (k *Kernel) nextTidLocked() Tid {
	k.tidCounter++
	return k.tidCounter
}
