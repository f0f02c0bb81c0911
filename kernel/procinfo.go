package kernel

import "encoding/binary"

// procinfoRecordSize is the wire size of one procinfoRecord (spec.md 6
// OpenInfo, 9 Open Question 4). The source this was distilled from let a
// caller pass an arbitrary `size` and `memcpy`'d that many bytes out of
// a freshly built, possibly-uninitialized struct — a straight leak/OOB
// read if `size` exceeded the struct. This rewrite removes the
// arbitrary size entirely: a read either consumes exactly one
// fixed-size record or fails, so there is no partial-struct copy for a
// bad size to expose.
const procinfoRecordSize = 4 * 8 // pid, ppid, state, threadCount as int64

// procinfoRecord is one row of the read-only process listing: the
// fields a caller can learn about a PCB without synchronizing on it
// directly (spec.md 1: "the procinfo read-only process-listing
// pseudo-file (trivial iterator)").
type procinfoRecord struct {
	Pid         int64
	Ppid        int64
	State       int64
	ThreadCount int64
}

// procInfoState is the per-fid iterator position: OpenInfo snapshots no
// data itself (there is nothing to snapshot eagerly — the table can
// change between reads), it just starts a cursor over live table slots
// in slot order.
type procInfoState struct {
	k        *Kernel
	nextSlot int
}

// OpenInfo implements spec.md 6 OpenInfo: reserves a fresh fid bound to
// an iterator over the process table, read in ascending slot order.
// Returns NoFile if no descriptor is free.
func (t *Thread) OpenInfo() Fid {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	st := &procInfoState{k: k}
	return reserveFidLocked(t.ptcb.proc, &procInfoOps{st: st})
}

// procInfoOps is the StreamOps for an OpenInfo fid. Write is unsupported
// (-1); Close just drops the iterator (there is nothing else to release).
type procInfoOps struct {
	st *procInfoState
}

func (o *procInfoOps) WriteLocked(k *Kernel, buf []byte) int { return Err }
func (o *procInfoOps) CloseLocked(k *Kernel) int             { return 0 }

// ReadLocked implements the OpenInfo iterator: each call advances past
// table slots with no live process and, on finding one, serializes
// exactly one procinfoRecord into buf and returns procinfoRecordSize.
// Returns 0 once the table is exhausted (EOF, matching a pipe's
// convention for "nothing more"), or Err if buf is too small to hold
// one full record — never a partial or uninitialized copy.
func (o *procInfoOps) ReadLocked(k *Kernel, buf []byte) int {
	if len(buf) < procinfoRecordSize {
		return Err
	}
	st := o.st
	for st.nextSlot < len(st.k.procs) {
		p := st.k.procs[st.nextSlot]
		st.nextSlot++
		if p == nil || p.pstate == procFree {
			continue
		}
		rec := procinfoRecord{
			Pid:         int64(p.pid),
			Ppid:        int64(NoProc),
			State:       int64(p.pstate),
			ThreadCount: int64(p.threadCount),
		}
		if p.parent != nil {
			rec.Ppid = int64(p.parent.pid)
		}
		binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.Pid))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(rec.Ppid))
		binary.LittleEndian.PutUint64(buf[16:24], uint64(rec.State))
		binary.LittleEndian.PutUint64(buf[24:32], uint64(rec.ThreadCount))
		return procinfoRecordSize
	}
	return 0
}
