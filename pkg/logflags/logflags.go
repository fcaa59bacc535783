// Package logflags turns per-layer logging on and off. Layers are selected
// with the --log-output flag; without --log everything is suppressed.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var session = false
var native = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Session returns true if the debug session layer should log.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the debug session layer.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

// Native returns true if the native debug channel should log.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the native debug channel.
func NativeLogger() *logrus.Entry {
	return makeLogger(native, logrus.Fields{"layer": "native"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging layers based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "session":
			session = true
		case "native":
			native = true
		default:
			return errors.New("unknown log output: " + logcmd)
		}
	}
	return nil
}
