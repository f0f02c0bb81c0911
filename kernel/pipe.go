package kernel

// pipe_t is the Pipe Control Block (spec.md 3/4.B): a bounded
// single-producer/single-consumer byte ring using the "one slot empty"
// convention (capacity is len(buf)-1; empty iff r==w; full iff
// (w+1)%len(buf)==r). The index arithmetic mirrors BiscuitOS's
// circbuf_t.head/tail (cb.full()/cb.empty()/cb.left()/cb.used()),
// adapted from circbuf_t's lazily-allocated, single-daemon buffer to a
// fixed-size, blocking SPSC ring shared by two independent threads.
type pipe_t struct {
	buf        [PipeBufferSize]byte
	r, w       int
	writerLive bool
	readerLive bool
	hasSpace   *condvar_t
	hasData    *condvar_t
	closed     bool // both sides gone; set once, guards against double free
}

func newPipe() *pipe_t {
	return &pipe_t{
		writerLive: true,
		readerLive: true,
		hasSpace:   newCondvar(),
		hasData:    newCondvar(),
	}
}

func (p *pipe_t) empty() bool { return p.r == p.w }
func (p *pipe_t) full() bool  { return (p.w+1)%len(p.buf) == p.r }

// PipeCreate implements spec.md 4.B pipe_create: it allocates a pipe_t
// and reserves a reader and a writer descriptor for it in the calling
// thread's process, returning (reader, writer) fids or (NoFile, NoFile)
// if two descriptors cannot be reserved.
func (t *Thread) PipeCreate() (reader, writer Fid) {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	pp := newPipe()
	readerOps := &pipeReaderOps{p: pp}
	writerOps := &pipeWriterOps{p: pp}

	fids, ok := reserveFidsLocked(t.ptcb.proc, readerOps, writerOps)
	if !ok {
		return NoFile, NoFile
	}
	return fids[0], fids[1]
}

// pipeWriteLocked implements spec.md 4.B write: waits on has_space while
// the ring is full and the reader still exists; returns -1 if the reader
// is gone before any byte was written, or the count written so far if it
// vanishes mid-write; otherwise keeps copying bytes until written ==
// len(buf), broadcasting has_data before each wait for space (so a
// blocked reader can drain the ring) and once more before returning.
// A write of n==0 returns 0 without blocking. Caller must
// hold k.mu; kernelWait drops and reacquires it across each blocking wait.
func (p *pipe_t) pipeWriteLocked(k *Kernel, buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	if !p.readerLive {
		return Err
	}

	written := 0
	for written < len(buf) {
		for p.full() && p.readerLive {
			k.kernelBroadcast(p.hasData)
			k.kernelWait(p.hasSpace, SchedPipe)
		}
		if !p.readerLive {
			if written > 0 {
				break
			}
			return Err
		}
		for !p.full() && written < len(buf) {
			p.buf[p.w] = buf[written]
			p.w = (p.w + 1) % len(p.buf)
			written++
		}
	}
	k.kernelBroadcast(p.hasData)
	return written
}

// pipeReadLocked implements spec.md 4.B read: waits on has_data while the
// ring is empty and the writer still exists; returns 0 (EOF) if the
// writer is gone and the buffer is drained; otherwise copies bytes
// while data remains and byte_num < len(buf), broadcasting has_space
// exactly once before returning. Reading n==0 returns 0 immediately.
// Caller must hold k.mu.
func (p *pipe_t) pipeReadLocked(k *Kernel, buf []byte) int {
	if len(buf) == 0 {
		return 0
	}

	for p.empty() && p.writerLive {
		k.kernelWait(p.hasData, SchedPipe)
	}
	if p.empty() && !p.writerLive {
		return 0
	}

	got := 0
	for !p.empty() && got < len(buf) {
		buf[got] = p.buf[p.r]
		p.r = (p.r + 1) % len(p.buf)
		got++
	}
	k.kernelBroadcast(p.hasSpace)
	return got
}

// writerCloseLocked implements spec.md 4.B writer_close: idempotent,
// nulls the writer side, broadcasts has_data so a blocked reader wakes
// to observe EOF, and releases the pipe if the reader side is already
// gone. Caller must hold k.mu.
func (p *pipe_t) writerCloseLocked(k *Kernel) int {
	if !p.writerLive {
		return 0
	}
	p.writerLive = false
	k.kernelBroadcast(p.hasData)
	p.freeIfBothClosedLocked()
	return 0
}

// readerCloseLocked implements spec.md 4.B reader_close: idempotent,
// nulls the reader side, broadcasts has_space so a blocked writer wakes
// to observe a dead reader and return -1, and releases the pipe if the
// writer side is already gone. Caller must hold k.mu.
func (p *pipe_t) readerCloseLocked(k *Kernel) int {
	if !p.readerLive {
		return 0
	}
	p.readerLive = false
	k.kernelBroadcast(p.hasSpace)
	p.freeIfBothClosedLocked()
	return 0
}

// freeIfBothClosedLocked releases the PCB_p exactly once, when both
// endpoints have closed (spec.md 3 invariant, 8 property 3). Go's GC
// reclaims the pipe_t itself once nothing references it; "release"
// here means dropping this pipe's two weak handles so neither side
// can be mistaken for still live, and marking it so a second call from
// the other side's close is a no-op rather than a double free.
func (p *pipe_t) freeIfBothClosedLocked() {
	if p.closed {
		return
	}
	if !p.readerLive && !p.writerLive {
		p.closed = true
	}
}

// pipeReaderOps is the reader-side StreamOps: {Read, Close} (spec.md
// 4.F). Every method assumes the kernel lock is already held by the
// caller — the same contract reserveFidLocked/fcbDecrefLocked use —
// since fcbDecrefLocked invokes CloseLocked while holding k.mu.
type pipeReaderOps struct {
	p *pipe_t
}

func (o *pipeReaderOps) ReadLocked(k *Kernel, buf []byte) int  { return o.p.pipeReadLocked(k, buf) }
func (o *pipeReaderOps) WriteLocked(k *Kernel, buf []byte) int { return Err }
func (o *pipeReaderOps) CloseLocked(k *Kernel) int             { return o.p.readerCloseLocked(k) }

// pipeWriterOps is the writer-side StreamOps: {Write, Close} (spec.md 4.F).
type pipeWriterOps struct {
	p *pipe_t
}

func (o *pipeWriterOps) ReadLocked(k *Kernel, buf []byte) int  { return Err }
func (o *pipeWriterOps) WriteLocked(k *Kernel, buf []byte) int { return o.p.pipeWriteLocked(k, buf) }
func (o *pipeWriterOps) CloseLocked(k *Kernel) int             { return o.p.writerCloseLocked(k) }
