package base

import (
	"fmt"
	"log"
	"os"
)

type defaultLogger struct{ l *log.Logger }

func (d defaultLogger) Infof(format string, args ...interface{}) {
	d.l.Output(2, fmt.Sprintf(format, args...))
}

func (d defaultLogger) Fatalf(format string, args ...interface{}) {
	d.l.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// DefaultLogger writes timestamped lines to stderr.
var DefaultLogger Logger = defaultLogger{l: log.New(os.Stderr, "", log.LstdFlags)}

// EventListener exposes hooks a collaborator (e.g. the network layer) can
// set to observe background engine activity without coupling to internal
// types. Every field is optional.
type EventListener struct {
	FlushBegin      func(FlushInfo)
	FlushEnd        func(FlushInfo)
	CompactionBegin func(CompactionInfo)
	CompactionEnd   func(CompactionInfo)
	ManifestCreated func(ManifestInfo)
	WALCreated      func(WALInfo)
	WALSynced       func()
}

type FlushInfo struct {
	JobID      int
	Input      int
	OutputFile uint64
}

type CompactionInfo struct {
	JobID       int
	InputLevel  int
	OutputLevel int
	Input       int
	Output      int
}

type ManifestInfo struct {
	FileNum uint64
}

type WALInfo struct {
	FileNum uint64
}
