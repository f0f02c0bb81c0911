package kernel

// Read, Write and Close are the three fid-scoped syscalls spec.md 4.F
// describes as dispatching through the descriptor's bound StreamOps.
// Each acquires the kernel lock exactly once and holds it for the
// entire call, except while a blocking wait inside the underlying
// pipe/socket releases it through kernelWait, matching every other
// syscall in this package; a single
// acquire also lets fcbDecrefLocked invoke CloseLocked without letting
// go of the lock mid-teardown.

// Read implements spec.md 4.F Read: -1 on an unknown fid, otherwise the
// bound stream's ReadLocked result.
func (t *Thread) Read(fid Fid, buf []byte) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	f := fcbAt(t.ptcb.proc, fid)
	if f == nil {
		return Err
	}
	return f.ops.ReadLocked(k, buf)
}

// Write implements spec.md 4.F Write: -1 on an unknown fid, otherwise
// the bound stream's WriteLocked result.
func (t *Thread) Write(fid Fid, buf []byte) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	f := fcbAt(t.ptcb.proc, fid)
	if f == nil {
		return Err
	}
	return f.ops.WriteLocked(k, buf)
}

// Close implements spec.md 4.F Close: drops this fid's reference to its
// FCB, invoking CloseLocked on the underlying stream once no fid
// references it anymore, and frees the slot. -1 on an unknown fid.
func (t *Thread) Close(fid Fid) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	proc := t.ptcb.proc
	if int(fid) < 0 || int(fid) >= len(proc.fds) || proc.fds[fid] == nil {
		return Err
	}
	f := proc.fds[fid]
	proc.fds[fid] = nil
	fcbDecrefLocked(k, f)
	return 0
}

// fcbAt looks up fid in proc's descriptor table, returning nil for an
// out-of-range or unbound fid. Caller must hold k.mu.
func fcbAt(proc *pcb_t, fid Fid) *fcb_t {
	if int(fid) < 0 || int(fid) >= len(proc.fds) {
		return nil
	}
	return proc.fds[fid]
}
