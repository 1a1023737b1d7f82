package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

func init() {
	Setup(os.Stdout, "info")
}

// Setup points every logger at w. Levels below level are discarded;
// level is one of debug, info, warn, error.
func Setup(w io.Writer, level string) {
	logFlags := log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

	rank := map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}
	min, ok := rank[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		min = rank["info"]
	}
	out := func(l int) io.Writer {
		if l < min {
			return io.Discard
		}
		return w
	}

	Debug = log.New(out(0), "DEBUG: ", logFlags)
	Info = log.New(out(1), "INFO: ", logFlags)
	Warn = log.New(out(2), "WARN: ", logFlags)
	Error = log.New(out(3), "ERROR: ", logFlags)
}
