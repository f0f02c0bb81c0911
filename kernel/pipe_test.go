package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bootKernel is the test helper every _test.go file in this package uses
// to stand up an isolated Kernel + init thread pair, the way
// tomponline-lxd's db tests build a fresh schema per test instead of
// sharing global state.
func bootKernel(t *testing.T) (*Kernel, *Thread) {
	t.Helper()
	k, init := NewKernel()
	return k, init
}

func TestPipeLoopback(t *testing.T) {
	// S1: write 5, close writer, read 10 -> 5 bytes, read again -> 0 (EOF).
	_, init := bootKernel(t)

	var r, w Fid
	done := make(chan int, 1)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		r, w = self.PipeCreate()
		require.NotEqual(t, NoFile, r)
		require.NotEqual(t, NoFile, w)

		n := self.Write(w, []byte("hello"))
		require.Equal(t, 5, n)
		require.Equal(t, 0, self.Close(w))

		buf := make([]byte, 10)
		n = self.Read(r, buf)
		require.Equal(t, 5, n)
		require.Equal(t, "hello", string(buf[:5]))

		n = self.Read(r, buf)
		require.Equal(t, 0, n)
		return 0
	}, 0, nil)
	require.NotEqual(t, NoProc, pid)

	go func() {
		var ev int
		init.WaitChild(pid, &ev)
		done <- ev
	}()
	select {
	case ev := <-done:
		assert.Equal(t, 0, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish")
	}
}

func TestPipeFullRing(t *testing.T) {
	// S2: a write larger than the ring must block until the reader
	// drains enough space, then complete in full, preserving order.
	_, init := bootKernel(t)

	payload := make([]byte, PipeBufferSize*2)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan int, 1)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		r, w := self.PipeCreate()
		writeDone := make(chan int, 1)
		go func() {
			writeDone <- self.Write(w, payload)
		}()

		got := make([]byte, 0, len(payload))
		buf := make([]byte, 16)
		for len(got) < len(payload) {
			n := self.Read(r, buf)
			if n <= 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		written := <-writeDone
		if written != len(payload) || len(got) != len(payload) {
			return 1
		}
		for i := range payload {
			if got[i] != payload[i] {
				return 2
			}
		}
		return 0
	}, 0, nil)

	go func() {
		var ev int
		init.WaitChild(pid, &ev)
		done <- ev
	}()
	select {
	case ev := <-done:
		assert.Equal(t, 0, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish")
	}
}

func TestPipeWriteAfterReaderCloseFails(t *testing.T) {
	_, init := bootKernel(t)
	done := make(chan int, 1)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		r, w := self.PipeCreate()
		require.Equal(t, 0, self.Close(r))
		n := self.Write(w, []byte("x"))
		if n != Err {
			return 1
		}
		return 0
	}, 0, nil)
	go func() {
		var ev int
		init.WaitChild(pid, &ev)
		done <- ev
	}()
	select {
	case ev := <-done:
		assert.Equal(t, 0, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish")
	}
}

func TestPipeZeroLengthOpsDoNotBlock(t *testing.T) {
	_, init := bootKernel(t)
	done := make(chan int, 1)
	pid := init.Exec(func(self *Thread, argl int, args []byte) int {
		r, w := self.PipeCreate()
		if n := self.Write(w, nil); n != 0 {
			return 1
		}
		if n := self.Read(r, nil); n != 0 {
			return 2
		}
		return 0
	}, 0, nil)
	go func() {
		var ev int
		init.WaitChild(pid, &ev)
		done <- ev
	}()
	select {
	case ev := <-done:
		assert.Equal(t, 0, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish")
	}
}

func TestPipeRingInvariant(t *testing.T) {
	// Property 2: at every suspension point 0<=r,w<N and (w-r) mod N <= N-1.
	p := newPipe()
	for i := 0; i < PipeBufferSize*3; i++ {
		assert.True(t, p.r >= 0 && p.r < len(p.buf))
		assert.True(t, p.w >= 0 && p.w < len(p.buf))
		used := (p.w - p.r + len(p.buf)) % len(p.buf)
		assert.LessOrEqual(t, used, len(p.buf)-1)
		p.w = (p.w + 1) % len(p.buf)
		if p.full() {
			p.r = (p.r + 1) % len(p.buf)
		}
	}
}

func TestPipeFreedExactlyOnce(t *testing.T) {
	// Property 3: after both endpoints close, freeIfBothClosedLocked is
	// idempotent and the pipe is marked closed exactly once.
	p := newPipe()
	k := &Kernel{}
	p.writerCloseLocked(k)
	assert.False(t, p.closed)
	p.readerCloseLocked(k)
	assert.True(t, p.closed)

	// A second close of either side must not panic or double-transition.
	p.writerCloseLocked(k)
	p.readerCloseLocked(k)
	assert.True(t, p.closed)
}
