package logging

import (
	"log"
)

var runID string

// SetRunID tags every following log line with the id of the current migration run.
func SetRunID(id string) {
	runID = id
}

// Log writes one leveled line to the standard logger.
func Log(level, module, operation, details string) {
	if runID == "" {
		log.Printf("[%s] %s/%s: %s", level, module, operation, details)
		return
	}
	log.Printf("[%s] run=%s %s/%s: %s", level, runID, module, operation, details)
}

// Info logs an informational message.
func Info(module, operation, details string) {
	Log("INFO", module, operation, details)
}

// Warn logs a non-fatal problem.
func Warn(module, operation, details string) {
	Log("WARN", module, operation, details)
}

// Error logs a failure.
func Error(module, operation, details string) {
	Log("ERROR", module, operation, details)
}
