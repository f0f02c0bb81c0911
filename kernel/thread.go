package kernel

import "runtime"

// ptcb_t is the per-thread join handle (spec.md 3 PTCB / 4.D). It is a
// refcounted handle: joiners hold a borrow for the duration of their
// wait, detachment is a flag that turns future joins into an immediate
// error, and the handle is freed either by the last joiner to drop its
// reference or by the owning process's last-thread cleanup.
type ptcb_t struct {
	id   Tid
	proc *pcb_t

	task TaskFunc
	argl int
	args []byte

	exitval  int
	exited   bool
	detached bool
	refcount int

	exitCv *condvar_t
}

// Thread is the public handle a caller uses to issue thread- and
// process-scoped syscalls "as" a particular kernel thread. Go has no
// per-goroutine storage standing in for a real kernel's per-CPU
// "current thread" pointer, so every TaskFunc receives its own Thread
// explicitly instead of recovering it from ambient state.
type Thread struct {
	k    *Kernel
	ptcb *ptcb_t
}

// Tid returns the calling thread's own join-handle identity (the
// ThreadSelf syscall, spec.md 4.D/6). Since self is threaded through
// explicitly, this is a pure accessor.
func (t *Thread) Tid() Tid { return t.ptcb.id }

// CreateThread spawns a new thread inside the same process as t,
// running task(argl, args). args is NOT copied (spec.md 6): the caller
// must keep it alive for the thread's lifetime.
func (t *Thread) CreateThread(task TaskFunc, argl int, args []byte) Tid {
	k := t.k
	k.mu.Lock()
	proc := t.ptcb.proc
	pt := &ptcb_t{id: k.nextTidLocked(), proc: proc, task: task, argl: argl, args: args, exitCv: newCondvar()}
	proc.threads = append(proc.threads, pt)
	proc.threadCount++
	k.mu.Unlock()

	newThread := &Thread{k: k, ptcb: pt}
	spawnThread(func() {
		ret := task(newThread, argl, args)
		newThread.ThreadExit(ret)
	})
	return pt.id
}

// findPTCB looks up tid on proc's PTCB list. Caller must hold k.mu.
func findPTCB(proc *pcb_t, tid Tid) *ptcb_t {
	for _, pt := range proc.threads {
		if pt.id == tid {
			return pt
		}
	}
	return nil
}

// Join implements spec.md 4.D Join: fails (-1) on an unknown PTCB,
// self-join, or a detached target. On success it borrows a reference
// for the wait, blocks on exit_cv while the thread is neither exited
// nor detached, stores the exit value in *out (if out is non-nil) and
// returns 0 — unless the thread was detached while the caller waited,
// in which case it still returns -1.
func (t *Thread) Join(tid Tid, out *int) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	proc := t.ptcb.proc
	target := findPTCB(proc, tid)
	if target == nil {
		return Err
	}
	if target == t.ptcb {
		return Err
	}
	if target.detached {
		return Err
	}

	target.refcount++
	for !target.exited && !target.detached {
		k.kernelWait(target.exitCv, SchedUser)
	}
	target.refcount--

	// detachment always wins over a concurrent exit for a joiner that
	// was already waiting: ownership of the exit value transfers to the
	// process's last-thread cleanup the moment Detach is called.
	if target.detached {
		return Err
	}

	if out != nil {
		*out = target.exitval
	}
	if target.refcount == 0 && target.exited {
		proc.threads = removePTCB(proc.threads, target)
	}
	return 0
}

// Detach implements spec.md 4.D Detach: fails if tid is unknown or has
// already exited. On success it flips the detached flag and broadcasts
// exit_cv so in-flight joiners wake, observe detachment, and return -1.
// The handle itself is freed later by the process's last-thread cleanup,
// not by any joiner.
func (t *Thread) Detach(tid Tid) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	target := findPTCB(t.ptcb.proc, tid)
	if target == nil || target.exited {
		return Err
	}
	target.detached = true
	k.kernelBroadcast(target.exitCv)
	return 0
}

func removePTCB(list []*ptcb_t, target *ptcb_t) []*ptcb_t {
	for i, pt := range list {
		if pt == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ThreadExit implements spec.md 4.D Exit for a thread that is not
// necessarily its process's last: it never returns to the caller,
// matching the "-> !" signature in spec.md 6 (ThreadExit). This module
// has no kernel_sleep(EXITED, ...) primitive to block in forever, so
// the non-returning contract is realized the idiomatic Go way: the exit
// path ends with runtime.Goexit, so the goroutine backing this thread
// ends there.
func (t *Thread) ThreadExit(exitval int) {
	t.threadExit(exitval)
}

// Exit implements the process-scoped Exit syscall (spec.md 4.C): store
// exitval, and if the caller is init (pid 1), first drain every child
// via WaitChild(NoProc) before falling into the same thread-exit path
// ThreadExit uses. Also never returns.
func (t *Thread) Exit(exitval int) {
	proc := t.ptcb.proc
	if proc.pid == 1 {
		var discard int
		for t.WaitChild(NoProc, &discard) != NoProc {
		}
	}
	t.threadExit(exitval)
}

// threadExit is the shared body of ThreadExit and Exit (spec.md 4.D
// Exit): write exitval, flip exited, broadcast exit_cv, decrement
// thread_count. If this was the process's last thread: for a non-init
// process, reparent living children to init, hand over the exited list
// and push self onto the parent's exited list; for any process, release
// resources and mark the process a zombie. Ends the calling goroutine
// via runtime.Goexit.
func (t *Thread) threadExit(exitval int) {
	k := t.k
	k.mu.Lock()

	pt := t.ptcb
	proc := pt.proc

	pt.exitval = exitval
	pt.exited = true
	k.kernelBroadcast(pt.exitCv)
	proc.threadCount--

	if proc.threadCount == 0 {
		k.lastThreadCleanupLocked(proc)
	}

	k.mu.Unlock()

	klog_.WithField("pid", proc.pid).WithField("tid", pt.id).WithField("exitval", exitval).Debug("thread exit")
	threadExitHook()
	runtime.Goexit()
}

// lastThreadCleanupLocked runs once, for the thread whose exit drove
// thread_count to zero. Caller holds k.mu.
func (k *Kernel) lastThreadCleanupLocked(proc *pcb_t) {
	if proc.pid != 1 {
		ini := k.findProcLocked(1)

		for _, c := range proc.children {
			c.parent = ini
			ini.children = append(ini.children, c)
		}
		proc.children = nil

		ini.exited = append(ini.exited, proc.exited...)
		for _, z := range proc.exited {
			z.parent = ini
		}
		proc.exited = nil
		k.kernelBroadcast(ini.childExit)

		if proc.parent != nil {
			proc.parent.exited = append(proc.parent.exited, proc)
			k.kernelBroadcast(proc.parent.childExit)
		}
	}

	proc.args = nil
	for i := range proc.fds {
		if proc.fds[i] != nil {
			fcbDecrefLocked(k, proc.fds[i])
			proc.fds[i] = nil
		}
	}
	proc.threads = nil
	proc.mainThread = nil
	proc.pstate = procZombie
}

func (k *Kernel) findProcLocked(pid Pid) *pcb_t {
	for _, p := range k.procs {
		if p != nil && p.pid == pid && p.pstate != procFree {
			return p
		}
	}
	return nil
}

// threadExitHook is a seam for tests that want to observe a thread's
// goroutine actually ending (e.g. synchronizing on a sentinel channel)
// without reaching into package internals.
var threadExitHook = func() {}
