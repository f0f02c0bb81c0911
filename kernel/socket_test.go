package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketRendezvous(t *testing.T) {
	// S3: Accept/Connect rendezvous, full-duplex delivery, and half-close
	// producing EOF on the peer.
	_, init := bootKernel(t)
	const port = 42
	listening := make(chan struct{})

	serverPid := init.Exec(func(self *Thread, argl int, args []byte) int {
		s := self.Socket(port)
		rc := self.Listen(s)
		close(listening)
		if rc != 0 {
			return 1
		}
		a := self.Accept(s)
		if a == NoFile {
			return 2
		}
		if n := self.Write(a, []byte("hi")); n != 2 {
			return 3
		}
		if rc := self.ShutDown(a, ShutdownWrite); rc != 0 {
			return 4
		}
		return 0
	}, 0, nil)

	clientPid := init.Exec(func(self *Thread, argl int, args []byte) int {
		<-listening
		c := self.Socket(0)
		if self.Connect(c, port, 1000) != 0 {
			return 1
		}
		buf := make([]byte, 16)
		n := self.Read(c, buf)
		if n != 2 || string(buf[:2]) != "hi" {
			return 2
		}
		if eof := self.Read(c, buf); eof != 0 {
			return 3
		}
		return 0
	}, 0, nil)

	require.NotEqual(t, NoProc, serverPid)
	require.NotEqual(t, NoProc, clientPid)

	var sv, cv int
	init.WaitChild(serverPid, &sv)
	init.WaitChild(clientPid, &cv)
	assert.Equal(t, 0, sv)
	assert.Equal(t, 0, cv)
}

func TestConnectTimeoutNoListener(t *testing.T) {
	// S4 (no listener case).
	_, init := bootKernel(t)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		c := self.Socket(0)
		if self.Connect(c, 99, 50) != Err {
			return 1
		}
		return 0
	}, 0, nil)
	assertExitsZero(t, init, pid)
}

func TestConnectTimeoutNoAccept(t *testing.T) {
	// S4 (listener present, nobody accepts).
	_, init := bootKernel(t)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		l := self.Socket(99)
		if self.Listen(l) != 0 {
			return 1
		}
		c := self.Socket(0)
		start := time.Now()
		if self.Connect(c, 99, 50) != Err {
			return 2
		}
		if time.Since(start) < 40*time.Millisecond {
			return 3
		}
		return 0
	}, 0, nil)
	assertExitsZero(t, init, pid)
}

func TestPortUniqueness(t *testing.T) {
	// Property 8: at most one SCB occupies a port; closing a listener
	// frees the port for reuse.
	_, init := bootKernel(t)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		l1 := self.Socket(7)
		if self.Listen(l1) != 0 {
			return 1
		}
		l2 := self.Socket(7)
		if self.Listen(l2) != Err {
			return 2
		}
		if self.Close(l1) != 0 {
			return 3
		}
		l3 := self.Socket(7)
		if self.Listen(l3) != 0 {
			return 4
		}
		return 0
	}, 0, nil)
	assertExitsZero(t, init, pid)
}

func TestListenerCloseRefusesQueuedConnect(t *testing.T) {
	_, init := bootKernel(t)
	const port = 55
	listenerReady := make(chan struct{})

	serverPid := init.Exec(func(self *Thread, argl int, args []byte) int {
		l := self.Socket(port)
		if self.Listen(l) != 0 {
			return 1
		}
		close(listenerReady)
		time.Sleep(30 * time.Millisecond)
		if self.Close(l) != 0 {
			return 2
		}
		return 0
	}, 0, nil)

	clientPid := init.Exec(func(self *Thread, argl int, args []byte) int {
		<-listenerReady
		c := self.Socket(0)
		if self.Connect(c, port, 2000) != Err {
			return 1
		}
		return 0
	}, 0, nil)

	var sv, cv int
	init.WaitChild(serverPid, &sv)
	init.WaitChild(clientPid, &cv)
	assert.Equal(t, 0, sv)
	assert.Equal(t, 0, cv)
}

func TestShutDownOnNonPeerFails(t *testing.T) {
	_, init := bootKernel(t)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		s := self.Socket(0)
		if self.ShutDown(s, ShutdownBoth) != Err {
			return 1
		}
		return 0
	}, 0, nil)
	assertExitsZero(t, init, pid)
}
