//+build !windows,!plan9

package log

import (
	"fmt"
	"log/syslog"
	"os"
	"time"
)

type syslogOut struct {
	w *syslog.Writer
}

func (s syslogOut) Write(stamp time.Time, debug bool, msg string) {
	var err error
	if debug {
		err = s.w.Debug(msg + "\n")
	} else {
		err = s.w.Info(msg + "\n")
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to send message to syslog daemon: %v\n", err)
	}
}

func (s syslogOut) Close() error {
	return s.w.Close()
}

// syslogTag is the identity dimectl and any daemon built on this package
// log under; it shows up as the syslog PROGRAM field on every line.
const syslogTag = "dimectl"

// SyslogOutput returns a log.Output that sends messages to the system
// syslog daemon under the LOG_DAEMON facility, tagged as dimectl. Unlike
// a mail transfer agent, a signet resolution run is not tied to the mail
// facility even though its lookups are ultimately in service of DMTP
// message delivery, so this uses the generic daemon facility instead.
//
// Regular messages are written with INFO priority, debug messages with
// DEBUG priority. Returned log.Output object is goroutine-safe.
func SyslogOutput() (Output, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, syslogTag)
	return syslogOut{w}, err
}
