package kernel

// StreamOps is the small dispatch vtable every descriptor binds to a
// concrete stream object (spec.md 4.F): `{Open, Read, Write, Close}`.
// Open is unused by every stream type this core implements and is
// therefore omitted, the way BiscuitOS's own profhw_i interface only
// lists the operations its concrete types (nilprof_t, intelprof_t)
// actually need. Only Close is mandatory; Read/Write on an object that
// doesn't support them return Err.
//
// Every method takes the Kernel and assumes k.mu is already held by the
// caller: Read/Write need it to block on a condvar mid-call, and
// fcbDecrefLocked (below) must be able to invoke CloseLocked without
// releasing the lock it holds, so there is no lock-free variant to fall
// back to.
type StreamOps interface {
	ReadLocked(k *Kernel, p []byte) int
	WriteLocked(k *Kernel, p []byte) int
	CloseLocked(k *Kernel) int
}

// fcb_t is the minimal stand-in for the out-of-scope FCB/descriptor
// table spec.md 6 describes as an external collaborator
// (FCB_reserve/FCB_incref/FCB_decref). A complete, runnable repo needs
// *some* implementation of that contract; this is the smallest one
// that satisfies it: a refcounted binding of one StreamOps to however
// many per-process FIDs currently reference it (spec.md 4.C: "descriptor
// table is cloned and each cloned descriptor has its refcount bumped").
type fcb_t struct {
	ops      StreamOps
	refcount int
}

// reserveFidLocked finds a free slot in proc's FID table and binds ops to it
// with an initial refcount of 1 (FCB_reserve for a single descriptor).
// Returns NoFile if the table is full. Caller must hold k.mu.
func reserveFidLocked(proc *pcb_t, ops StreamOps) Fid {
	for i := range proc.fds {
		if proc.fds[i] == nil {
			proc.fds[i] = &fcb_t{ops: ops, refcount: 1}
			return Fid(i)
		}
	}
	return NoFile
}

// reserveFidsLocked reserves n descriptors at once (pipe_create needs
// two). On partial failure it releases what it already reserved so the
// table is left exactly as it was found, mirroring FCB_reserve's
// all-or-nothing contract.
func reserveFidsLocked(proc *pcb_t, opsList ...StreamOps) ([]Fid, bool) {
	fids := make([]Fid, 0, len(opsList))
	for _, ops := range opsList {
		fid := reserveFidLocked(proc, ops)
		if fid == NoFile {
			for _, f := range fids {
				proc.fds[f] = nil
			}
			return nil, false
		}
		fids = append(fids, fid)
	}
	return fids, true
}

// fcbIncrefLocked bumps the share count of an already-reserved FCB,
// binding it into a second fid (used when Exec clones a descriptor
// table). Caller must hold k.mu.
func fcbIncrefLocked(f *fcb_t) {
	f.refcount++
}

// fcbDecrefLocked drops a reference; when it reaches zero the bound
// stream's Close is invoked, exactly as spec.md 6 specifies ("when the
// core-held stream vtable's Close is invoked and no other fid refers
// to that FCB, the descriptor slot is recycled"). Caller must hold k.mu.
func fcbDecrefLocked(k *Kernel, f *fcb_t) {
	f.refcount--
	if f.refcount == 0 {
		f.ops.CloseLocked(k)
	}
}

// cloneFdTableLocked copies parent's FID table into child, bumping the
// refcount of every live FCB it references (spec.md 4.C Exec). Caller
// must hold k.mu.
func cloneFdTableLocked(parent, child *pcb_t) {
	for i := range parent.fds {
		if parent.fds[i] != nil {
			fcbIncrefLocked(parent.fds[i])
			child.fds[i] = parent.fds[i]
		}
	}
}
