// Package logging writes the process log. Until SetupLogger is called,
// info, warning and error lines go to the standard logger and debug lines
// are dropped; afterwards everything goes to the log file.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

type level string

const (
	levelDebug level = ""
	levelInfo  level = "INFO: "
	levelWarn  level = "WARNING: "
	levelError level = "ERROR: "
)

var (
	mu      sync.Mutex
	file    *os.File
	fileLog *log.Logger
)

// SetupLogger opens logFilePath for appending and sends all further log
// lines to it. It is a no-op while a log file is already open.
func SetupLogger(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()
	if fileLog != nil {
		return nil
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	file = f
	fileLog = log.New(f, "", log.LstdFlags)
	fileLog.Printf("--- ProductFinder log opened at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// CloseLogger closes the log file and restores the default destinations.
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if fileLog == nil {
		return
	}
	fileLog.Printf("--- ProductFinder log closed at %s ---", time.Now().Format(time.RFC3339))
	file.Close()
	file, fileLog = nil, nil
}

func write(l level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case fileLog != nil:
		fileLog.Printf(string(l)+format, args...)
	case l != levelDebug:
		log.Printf(string(l)+format, args...)
	}
}

// LogInfo logs an information message.
func LogInfo(format string, args ...interface{}) { write(levelInfo, format, args...) }

// LogWarning logs a recoverable problem.
func LogWarning(format string, args ...interface{}) { write(levelWarn, format, args...) }

// LogError logs a failure.
func LogError(format string, args ...interface{}) { write(levelError, format, args...) }

// DebugLog logs a message only when a log file is open.
func DebugLog(format string, args ...interface{}) { write(levelDebug, format, args...) }

// LogImageProcessed records the outcome for one catalog image.
func LogImageProcessed(key string, success bool, errMsg string) {
	if success {
		write(levelDebug, "PROCESSED: %s", key)
		return
	}
	write(levelDebug, "FAILED: %s - Error: %s", key, errMsg)
}
