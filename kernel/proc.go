package kernel

// pcb_t is the Process Control Block (spec.md 3). Its shape follows
// BiscuitOS's Proc_t/proc_new closely: a table slot threaded into a
// freelist while unused, a parent pointer (none for pid 0 and pid 1),
// living and exited child lists, and a per-process PTCB list.
type pcb_t struct {
	freeNext int // valid only while pstate == procFree

	pid    Pid
	pstate procState
	parent *pcb_t

	exitval int

	mainThread *ptcb_t
	mainTask   TaskFunc
	args       []byte

	children []*pcb_t
	exited   []*pcb_t
	threads  []*ptcb_t

	fds [MaxFileID]*fcb_t

	threadCount int
	childExit   *condvar_t
}

// Exec spawns a new process running task(argl, args) on its main
// thread, exactly as spec.md 4.C describes: a fresh PCB is acquired,
// parented to the caller's process (or left parentless for pid <= 1),
// args is deep-copied into process-owned memory, and — if task is
// non-nil — the main thread is started running a trampoline that calls
// task then Exit(retval). Returns NoProc if the table is full.
func (t *Thread) Exec(task TaskFunc, argl int, args []byte) Pid {
	k := t.k
	k.mu.Lock()

	child := k.acquirePCBLocked()
	if child == nil {
		k.mu.Unlock()
		return NoProc
	}

	parent := t.ptcb.proc
	if child.pid > 1 {
		child.parent = parent
		parent.children = append(parent.children, child)
		cloneFdTableLocked(parent, child)
	}

	child.args = append([]byte(nil), args...)
	child.mainTask = task
	child.childExit = newCondvar()

	mainPT := &ptcb_t{id: k.nextTidLocked(), proc: child, exitCv: newCondvar()}
	child.threads = append(child.threads, mainPT)
	child.mainThread = mainPT
	child.threadCount = 1

	childThread := &Thread{k: k, ptcb: mainPT}
	pid := child.pid
	k.mu.Unlock()

	if task != nil {
		spawnThread(func() {
			ret := task(childThread, argl, child.args)
			childThread.Exit(ret)
		})
	}

	klog_.WithField("pid", pid).WithField("ppid", parent.pid).Debug("exec")
	return pid
}

// GetPid returns the pid of the calling thread's process.
func (t *Thread) GetPid() Pid { return t.ptcb.proc.pid }

// GetPpid returns the pid of the calling thread's process's parent, or
// NoProc if the process is pid 0 or pid 1 (both parentless, spec.md 3).
func (t *Thread) GetPpid() Pid {
	p := t.ptcb.proc.parent
	if p == nil {
		return NoProc
	}
	return p.pid
}

// WaitChild implements spec.md 4.C. cpid == NoProc means "any child":
// block until no children remain (returns NoProc) or some child is a
// zombie, then reap the oldest one. A specific cpid fails immediately
// (NoProc) if it is not a living-or-exited child of the caller's process.
func (t *Thread) WaitChild(cpid Pid, out *int) Pid {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	proc := t.ptcb.proc

	if cpid != NoProc {
		if !hasChild(proc, cpid) {
			return NoProc
		}
		for {
			if z, ok := takeZombie(proc, cpid); ok {
				return reapLocked(k, proc, z, out)
			}
			k.kernelWait(proc.childExit, SchedUser)
		}
	}

	for {
		if len(proc.children) == 0 && len(proc.exited) == 0 {
			return NoProc
		}
		if len(proc.exited) > 0 {
			z := proc.exited[0]
			return reapLocked(k, proc, z, out)
		}
		k.kernelWait(proc.childExit, SchedUser)
	}
}

func hasChild(proc *pcb_t, cpid Pid) bool {
	for _, c := range proc.children {
		if c.pid == cpid {
			return true
		}
	}
	for _, c := range proc.exited {
		if c.pid == cpid {
			return true
		}
	}
	return false
}

func takeZombie(proc *pcb_t, cpid Pid) (*pcb_t, bool) {
	for _, c := range proc.exited {
		if c.pid == cpid {
			return c, true
		}
	}
	return nil, false
}

// reapLocked performs spec.md 4.C's Reap: copy exitval out, unlink the
// child from both children_list and exited_list, release the slot.
func reapLocked(k *Kernel, parent *pcb_t, child *pcb_t, out *int) Pid {
	if out != nil {
		*out = child.exitval
	}
	parent.children = removeProc(parent.children, child)
	parent.exited = removeProc(parent.exited, child)
	pid := child.pid
	k.releasePCBLocked(child)
	return pid
}

func removeProc(list []*pcb_t, target *pcb_t) []*pcb_t {
	for i, p := range list {
		if p == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
