// Package plog provides the process logger held by replcontroller's
// Controller and replworker's Server and accepted by indexer.Run.
package plog

import (
	"io"
	"log"
	"os"
	"time"
)

// Logger wraps a standard library *log.Logger, bracketing its lifetime
// with STARTUP and SHUTDOWN banner lines so that log files can be scanned
// for clean restarts versus crashes.
type Logger struct {
	*log.Logger
	file io.WriteCloser
}

// New wraps an already-open writer. The writer is not closed by Close;
// callers that pass os.Stdout, for example, want it to survive.
func New(w io.Writer) *Logger {
	l := log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC)
	logger := &Logger{Logger: l}
	logger.Println("STARTUP: Log file opened at", time.Now().Format(time.RFC3339))
	return logger
}

// NewFileLogger creates or appends to a log file at filename and returns a
// Logger writing to it. The returned Logger's Close method also closes the
// underlying file.
func NewFileLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	logger := New(file)
	logger.file = file
	return logger, nil
}

// Close writes a SHUTDOWN banner and, if the Logger owns a file (created
// via NewFileLogger), closes it.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: Log file closing at", time.Now().Format(time.RFC3339))
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Critical logs msg at a severity above ordinary errors and then panics.
// It is reserved for invariant violations described in spec §7 as
// "Logical errors" — programming errors that should abort the process
// rather than be handled: e.g. trying to serialize a PopulationMap that
// has not yet been made queryable, or registering two Workers under the
// same name.
func (l *Logger) Critical(v ...interface{}) {
	l.Println(append([]interface{}{"CRITICAL:"}, v...)...)
	panic(append([]interface{}{"CRITICAL:"}, v...))
}
