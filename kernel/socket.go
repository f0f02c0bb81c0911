package kernel

// scb_t is the Socket Control Block (spec.md 3/4.E). A socket starts
// UNBOUND (freshly created by Socket), becomes a LISTENER when Listen
// binds it to a port, or becomes a PEER either by a successful Connect
// (the connector's own scb is rewritten in place) or by Accept (a brand
// new scb handed back as a fresh fid). A PEER never transitions again;
// its two pipe endpoints are torn down by ShutDown/Close, never rebuilt.
type scb_t struct {
	typ  sockType
	port int

	listener *listenerState // non-nil iff typ == sockListener
	peer     *peerState     // non-nil iff typ == sockPeer

	closed bool
}

// listenerState is a LISTENER's payload: an explicit FIFO queue of
// pending connection requests plus the CV Accept blocks on. spec.md's
// design notes call out that a condvar alone gives no ordering
// guarantee, so — exactly as BiscuitOS keeps explicit lists wherever
// FIFO servicing actually matters — the queue is a plain slice Accept
// pops from the front of, not something left to CV wakeup order.
type listenerState struct {
	queue        []*connReq_t
	reqAvailable *condvar_t
}

// peerState is a PEER's payload: the two pipe_t endpoints rendezvous
// created for it (spec.md 4.E: "a connected pair is exactly two pipes,
// crossed"). readEnd is the pipe this socket reads from (this side is
// that pipe's reader); writeEnd is the pipe this socket writes to (this
// side is that pipe's writer).
type peerState struct {
	readEnd  *pipe_t
	writeEnd *pipe_t
}

// connReq_t is one pending Connect, queued on the target listener until
// Accept admits it or it is driven terminal some other way (timeout,
// listener close). admitted and refused are mutually exclusive terminal
// states; whichever side's code sets one first, while holding k.mu, owns
// the request — this is the resolution to the connect/accept ownership
// race spec.md leaves open (see DESIGN.md).
type connReq_t struct {
	peer        *peerState
	admitted    bool
	refused     bool
	connectedCv *condvar_t
}

// Socket implements spec.md 4.E Socket: validates 0 <= port <= MaxPort,
// allocates an UNBOUND scb, and binds it to a fresh fid. port is recorded
// for a later Listen but has no effect until then. Returns NoFile if port
// is out of range or the descriptor table is full.
func (t *Thread) Socket(port int) Fid {
	if port < NoPort || port > MaxPort {
		return NoFile
	}

	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	s := &scb_t{typ: sockUnbound, port: port}
	fid := reserveFidLocked(t.ptcb.proc, &socketOps{s: s})
	return fid
}

// Listen implements spec.md 4.E Listen: transitions an UNBOUND socket
// into a LISTENER bound to its port, publishing it in the kernel's port
// map. Fails (-1) if fid is not a fresh UNBOUND socket, the port is out
// of range, NoPort, or already occupied by another listener.
func (t *Thread) Listen(fid Fid) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	s := socketAt(t.ptcb.proc, fid)
	if s == nil || s.typ != sockUnbound {
		return Err
	}
	if s.port <= NoPort || s.port > MaxPort || k.portMap[s.port] != nil {
		return Err
	}

	s.typ = sockListener
	s.listener = &listenerState{reqAvailable: newCondvar()}
	k.portMap[s.port] = s
	return 0
}

// Connect implements spec.md 4.E Connect: queues a connection request
// on the listener bound to port and blocks for up to timeoutMs
// milliseconds for an Accept to admit it. Fails (-1) if fid is not a
// fresh UNBOUND socket, no LISTENER is bound to port, or the wait times
// out (or the listener closes) before admission. On success fid itself
// becomes the PEER socket.
func (t *Thread) Connect(fid Fid, port int, timeoutMs int) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	s := socketAt(t.ptcb.proc, fid)
	if s == nil || s.typ != sockUnbound {
		return Err
	}
	if port <= NoPort || port > MaxPort {
		return Err
	}
	listener := k.portMap[port]
	if listener == nil || listener.typ != sockListener || listener.closed {
		return Err
	}

	req := &connReq_t{connectedCv: newCondvar()}
	listener.listener.queue = append(listener.listener.queue, req)
	k.kernelBroadcast(listener.listener.reqAvailable)

	for !req.admitted && !req.refused {
		if woken := k.kernelTimedWait(req.connectedCv, SchedUser, connectTimeout(timeoutMs)); !woken {
			break
		}
	}

	if !req.admitted {
		// Whichever of Connect-timeout and Accept observes the request
		// still pending first, under k.mu, claims it: set refused here
		// (Connect's side of the race) and drop it from the queue so a
		// concurrent Accept can no longer find and admit it.
		if !req.refused {
			req.refused = true
		}
		removeConnReq(listener.listener, req)
		return Err
	}

	if s.closed {
		// Another thread in this process closed fid while Connect was
		// blocked in kernelTimedWait (CloseLocked has no sockUnbound case,
		// so it only set s.closed and freed the fid table slot — it could
		// not have torn down a peer that did not exist yet). Nothing
		// references s anymore, so resurrecting it into a live PEER here
		// would leak the two pipes Accept just built. Tear them down
		// instead of completing the transition.
		req.peer.readEnd.readerCloseLocked(k)
		req.peer.writeEnd.writerCloseLocked(k)
		return Err
	}

	s.typ = sockPeer
	s.peer = req.peer
	return 0
}

// Accept implements spec.md 4.E Accept: blocks until the listener bound
// to lfid has a pending, not-yet-refused request, then admits the
// oldest one, builds the crossed pipe pair, hands the connector its
// PEER state, and returns a brand new PEER fid for the server side.
// Returns NoFile if lfid is not a LISTENER or the listener is closed
// while Accept waits.
func (t *Thread) Accept(lfid Fid) Fid {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	listener := socketAt(t.ptcb.proc, lfid)
	if listener == nil || listener.typ != sockListener {
		return NoFile
	}

	var req *connReq_t
	for {
		if listener.closed {
			return NoFile
		}
		req = popLiveConnReq(listener.listener)
		if req != nil {
			break
		}
		k.kernelWait(listener.listener.reqAvailable, SchedUser)
	}

	pipeFromServer := newPipe() // server writes, connector reads
	pipeFromClient := newPipe() // connector writes, server reads

	serverSide := &scb_t{typ: sockPeer, peer: &peerState{readEnd: pipeFromClient, writeEnd: pipeFromServer}}
	connectorSide := &peerState{readEnd: pipeFromServer, writeEnd: pipeFromClient}

	fid := reserveFidLocked(t.ptcb.proc, &socketOps{s: serverSide})
	if fid == NoFile {
		return NoFile
	}

	req.peer = connectorSide
	req.admitted = true
	k.kernelSignal(req.connectedCv)
	return fid
}

// ShutDown implements spec.md 4.E ShutDown: closes the requested
// half/halves of a PEER socket's underlying pipes. Idempotent per half.
// Fails (-1) on a non-PEER fid.
func (t *Thread) ShutDown(fid Fid, how ShutdownHow) int {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()

	s := socketAt(t.ptcb.proc, fid)
	if s == nil || s.typ != sockPeer {
		return Err
	}
	if how == ShutdownRead || how == ShutdownBoth {
		s.peer.readEnd.readerCloseLocked(k)
	}
	if how == ShutdownWrite || how == ShutdownBoth {
		s.peer.writeEnd.writerCloseLocked(k)
	}
	return 0
}

// socketAt looks up fid in proc's descriptor table and returns its scb_t
// if it is bound to a socketOps, or nil otherwise. Caller must hold k.mu.
func socketAt(proc *pcb_t, fid Fid) *scb_t {
	f := fcbAt(proc, fid)
	if f == nil {
		return nil
	}
	so, ok := f.ops.(*socketOps)
	if !ok {
		return nil
	}
	return so.s
}

// popLiveConnReq removes and returns the oldest request on l's queue
// that has not already been refused (e.g. by a racing Connect timeout),
// discarding any stale refused entries it passes over. Returns nil if
// the queue holds nothing live. Caller must hold k.mu.
func popLiveConnReq(l *listenerState) *connReq_t {
	for len(l.queue) > 0 {
		req := l.queue[0]
		l.queue = l.queue[1:]
		if !req.refused {
			return req
		}
	}
	return nil
}

// removeConnReq drops req from l's queue if still present (a Connect
// that just timed out racing a not-yet-arrived Accept). Caller must
// hold k.mu.
func removeConnReq(l *listenerState, req *connReq_t) {
	for i, r := range l.queue {
		if r == req {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// socketOps is the StreamOps binding for every socket state. UNBOUND
// and LISTENER sockets support neither Read nor Write; PEER sockets
// delegate to their two pipe endpoints (spec.md 4.E/4.F).
type socketOps struct {
	s *scb_t
}

func (o *socketOps) ReadLocked(k *Kernel, buf []byte) int {
	if o.s.typ != sockPeer {
		return Err
	}
	return o.s.peer.readEnd.pipeReadLocked(k, buf)
}

func (o *socketOps) WriteLocked(k *Kernel, buf []byte) int {
	if o.s.typ != sockPeer {
		return Err
	}
	return o.s.peer.writeEnd.pipeWriteLocked(k, buf)
}

// CloseLocked tears down whichever state fid was in: a PEER closes both
// of its pipe halves; a LISTENER unpublishes itself from the port map,
// wakes any blocked Accept so it observes closure, and refuses every
// request still queued so blocked Connects return -1 instead of hanging
// forever.
func (o *socketOps) CloseLocked(k *Kernel) int {
	s := o.s
	if s.closed {
		return 0
	}
	s.closed = true

	switch s.typ {
	case sockPeer:
		s.peer.readEnd.readerCloseLocked(k)
		s.peer.writeEnd.writerCloseLocked(k)
	case sockListener:
		k.portMap[s.port] = nil
		for _, req := range s.listener.queue {
			if !req.admitted {
				req.refused = true
				k.kernelSignal(req.connectedCv)
			}
		}
		s.listener.queue = nil
		k.kernelBroadcast(s.listener.reqAvailable)
	}
	return 0
}
