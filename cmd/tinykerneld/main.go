package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/tinyos-go/corekernel/kernel"
	"github.com/tinyos-go/corekernel/kernel/klog"
)

// VERSION is injected by buildflags, the way xtaci-kcptun's client/server
// binaries do.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "tinykerneld"
	app.Usage = "demo driver for the process/thread/pipe/socket kernel core"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "scenario",
			Value: "all",
			Usage: "one of s1,s2,s3,s4,s5,s6,all",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "panic,fatal,error,warn,info,debug,trace",
		},
	}
	app.Action = func(c *cli.Context) error {
		if err := klog.SetLevel(c.String("log-level")); err != nil {
			return errors.Wrap(err, "set log level")
		}
		return runScenarios(c.String("scenario"))
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

var allScenarios = map[string]func(*kernel.Kernel, *kernel.Thread) error{
	"s1": scenarioPipeLoopback,
	"s2": scenarioFullRing,
	"s3": scenarioSocketRendezvous,
	"s4": scenarioConnectTimeout,
	"s5": scenarioJoinDetachRace,
	"s6": scenarioOrphanReparenting,
}

var scenarioOrder = []string{"s1", "s2", "s3", "s4", "s5", "s6"}

func runScenarios(selected string) error {
	names := scenarioOrder
	if selected != "all" {
		if _, ok := allScenarios[selected]; !ok {
			return fmt.Errorf("unknown scenario %q", selected)
		}
		names = []string{selected}
	}

	// Each scenario gets its own Kernel instance (cmd/tinykerneld exercises
	// the same multi-instance packaging kernel/*_test.go relies on), fanned
	// out concurrently via errgroup the way tomponline-lxd drives concurrent
	// setup tasks; g.Wait returns the first failure once every scenario has
	// finished (the others are not cancelled).
	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			k, init := kernel.NewKernel()
			if err := allScenarios[name](k, init); err != nil {
				return errors.Wrapf(err, "scenario %s", name)
			}
			fmt.Printf("%s: ok\n", name)
			return nil
		})
	}
	return g.Wait()
}

// runToChecked runs task as a fresh process under init, blocks until it
// exits, and turns a non-zero exit value into an error (each scenario
// task returns 0 for success and a distinct small int per failed
// assertion, the way a C-style test harness would).
func runToChecked(init *kernel.Thread, task kernel.TaskFunc) error {
	exitval, err := runTo(init, task)
	if err != nil {
		return err
	}
	if exitval != 0 {
		return fmt.Errorf("scenario assertion failed: exit %d", exitval)
	}
	return nil
}

// runTo runs task as a fresh process under init and blocks until it exits,
// returning its exit value.
func runTo(init *kernel.Thread, task kernel.TaskFunc) (int, error) {
	done := make(chan struct{})
	var exitval int
	proc := init.Exec(task, 0, nil)
	if proc == kernel.NoProc {
		return 0, errors.New("exec failed")
	}
	go func() {
		init.WaitChild(proc, &exitval)
		close(done)
	}()
	select {
	case <-done:
		return exitval, nil
	case <-time.After(5 * time.Second):
		return 0, errors.New("scenario timed out")
	}
}

func scenarioPipeLoopback(k *kernel.Kernel, init *kernel.Thread) error {
	return runToChecked(init, func(self *kernel.Thread, argl int, args []byte) int {
		r, w := self.PipeCreate()
		if r == kernel.NoFile || w == kernel.NoFile {
			return 1
		}
		if n := self.Write(w, []byte("hello")); n != 5 {
			return 2
		}
		self.Close(w)
		buf := make([]byte, 10)
		n := self.Read(r, buf)
		if n != 5 || string(buf[:5]) != "hello" {
			return 3
		}
		if n2 := self.Read(r, buf); n2 != 0 {
			return 4
		}
		return 0
	})
}

func scenarioFullRing(k *kernel.Kernel, init *kernel.Thread) error {
	// PipeBufferSize is fixed at compile time for this core (spec.md's
	// PIPE_BUFFER_SIZE = 8 example is illustrative); this exercises the
	// same "writer blocks, reader drains, writer completes" shape at the
	// module's real buffer size instead.
	return runToChecked(init, func(self *kernel.Thread, argl int, args []byte) int {
		r, w := self.PipeCreate()
		payload := make([]byte, kernel.PipeBufferSize+4)
		for i := range payload {
			payload[i] = byte(i)
		}
		readBack := make([]byte, 0, len(payload))
		writeDone := make(chan int, 1)
		go func() {
			writeDone <- self.Write(w, payload)
		}()
		buf := make([]byte, 4)
		for len(readBack) < len(payload) {
			n := self.Read(r, buf)
			if n <= 0 {
				break
			}
			readBack = append(readBack, buf[:n]...)
		}
		written := <-writeDone
		if written != len(payload) || len(readBack) != len(payload) {
			return 1
		}
		for i := range payload {
			if readBack[i] != payload[i] {
				return 2
			}
		}
		return 0
	})
}

func scenarioSocketRendezvous(k *kernel.Kernel, init *kernel.Thread) error {
	const port = 42
	listening := make(chan struct{})

	serverPid := init.Exec(func(self *kernel.Thread, argl int, args []byte) int {
		s := self.Socket(port)
		rc := self.Listen(s)
		close(listening)
		if rc != 0 {
			return 1
		}
		a := self.Accept(s)
		if a == kernel.NoFile {
			return 2
		}
		if n := self.Write(a, []byte("hi")); n != 2 {
			return 3
		}
		self.ShutDown(a, kernel.ShutdownWrite)
		return 0
	}, 0, nil)

	clientPid := init.Exec(func(self *kernel.Thread, argl int, args []byte) int {
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

	if serverPid == kernel.NoProc || clientPid == kernel.NoProc {
		return errors.New("exec failed")
	}

	var sv, cv int
	init.WaitChild(serverPid, &sv)
	init.WaitChild(clientPid, &cv)
	if sv != 0 || cv != 0 {
		return fmt.Errorf("server=%d client=%d", sv, cv)
	}
	return nil
}

func scenarioConnectTimeout(k *kernel.Kernel, init *kernel.Thread) error {
	return runToChecked(init, func(self *kernel.Thread, argl int, args []byte) int {
		noListener := self.Socket(0)
		if self.Connect(noListener, 99, 50) != kernel.Err {
			return 1
		}

		listenerHolder := self.Socket(99)
		if self.Listen(listenerHolder) != 0 {
			return 2
		}
		lateConnector := self.Socket(0)
		start := time.Now()
		if self.Connect(lateConnector, 99, 50) != kernel.Err {
			return 3
		}
		if time.Since(start) < 40*time.Millisecond {
			return 4
		}
		return 0
	})
}

func scenarioJoinDetachRace(k *kernel.Kernel, init *kernel.Thread) error {
	return runToChecked(init, func(self *kernel.Thread, argl int, args []byte) int {
		results := make(chan int, 2)
		tid := self.CreateThread(func(worker *kernel.Thread, argl int, args []byte) int {
			// give both joiners time to be waiting before exiting
			time.Sleep(20 * time.Millisecond)
			return 7
		}, 0, nil)

		for i := 0; i < 2; i++ {
			go func() {
				var out int
				rc := self.Join(tid, &out)
				if rc != 0 || out != 7 {
					results <- 1
					return
				}
				results <- 0
			}()
		}
		a, b := <-results, <-results
		if a != 0 || b != 0 {
			return 1
		}
		return 0
	})
}

func scenarioOrphanReparenting(k *kernel.Kernel, init *kernel.Thread) error {
	parentDone := make(chan struct{})
	c1Pid := make(chan kernel.Pid, 1)

	parentPid := init.Exec(func(self *kernel.Thread, argl int, args []byte) int {
		self.Exec(func(child *kernel.Thread, argl int, args []byte) int {
			c1Pid <- child.GetPid()
			time.Sleep(50 * time.Millisecond)
			return 0
		}, 0, nil)
		self.Exec(func(child *kernel.Thread, argl int, args []byte) int {
			return 0
		}, 0, nil)
		return 0
	}, 0, nil)
	if parentPid == kernel.NoProc {
		return errors.New("exec failed")
	}

	go func() {
		var discard int
		init.WaitChild(parentPid, &discard)
		close(parentDone)
	}()

	pid := <-c1Pid
	<-parentDone

	// By now P has exited; C1 may still be running briefly before its own
	// Exit, but its parent is already init regardless of C1's own state.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			return errors.New("orphan never reparented")
		default:
		}
		if ppidOf(init, pid) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	var ev int
	reaped := init.WaitChild(pid, &ev)
	if reaped != pid {
		return fmt.Errorf("init did not reap orphan: got %d", reaped)
	}
	return nil
}

// ppidOf is a demo-only helper reading OpenInfo's iterator to answer
// "what does init currently think this pid's parent is" without reaching
// into kernel-internal fields.
func ppidOf(init *kernel.Thread, pid kernel.Pid) kernel.Pid {
	fid := init.OpenInfo()
	if fid == kernel.NoFile {
		return kernel.NoProc
	}
	defer init.Close(fid)
	buf := make([]byte, 32)
	for {
		n := init.Read(fid, buf)
		if n <= 0 {
			return kernel.NoProc
		}
		if kernel.Pid(leUint64(buf[0:8])) == pid {
			return kernel.Pid(leUint64(buf[8:16]))
		}
	}
}

func leUint64(b []byte) int64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return int64(v)
}

