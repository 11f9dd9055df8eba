// Global database config.
package config

import "time"

// Name of the database.
const DBName = "heapdb"

// Prompt printed by REPL.
const Prompt = DBName + "> "

// The maximum number of pages that can be in the buffer pool at once.
const MaxPagesInBuffer = 32

// Default lock wait settings. A blocked lock request waits LockWait times a random
// factor in [1, LockWaitJitter] per attempt and aborts after LockAttempts timeouts.
const (
	LockWait       = 10 * time.Millisecond
	LockWaitJitter = 5
	LockAttempts   = 3
)

// Folder that holds table files when none is configured.
const DataDir = "data"

// Extension of heap files inside the data folder.
const TableFileExt = ".dat"

// Name of the folder that checkpoints are copied into, next to the data folder.
const CheckpointDirSuffix = "-checkpoint"

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
