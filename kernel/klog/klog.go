// Package klog is the structured logging shim used throughout kernel/.
//
// It replaces the raw fmt.Printf diagnostic prints BiscuitOS sprinkles
// through its kernel (kbd_daemon, cpus_start, netdump) with leveled,
// structured log lines. Tests run at the default (Warn) level so they
// stay quiet; cmd/tinykerneld sets it from its --log-level flag (default
// info).
package klog

import "github.com/sirupsen/logrus"

var log = logrus.New()

func init() {
	log.SetLevel(logrus.WarnLevel)
}

// SetLevel adjusts the package-wide verbosity. Valid names are those
// logrus.ParseLevel accepts: "panic", "fatal", "error", "warn"
// ("warning"), "info", "debug", "trace".
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

// L returns the shared logger entry with the given component field set,
// mirroring how tomponline-lxd scopes its logrus.Entry per subsystem.
func L(component string) *logrus.Entry {
	return log.WithField("component", component)
}
