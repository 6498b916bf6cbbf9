//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"
)

// commLength is the kernel limit on process names reported by the process table.
const commLength = 15

// ErrAlreadyRunning is returned when another process runs the same executable.
var ErrAlreadyRunning = errors.New("another instance is already running")

// EnsureSingleInstance fails when a process other than this one runs an executable named like ours.
func EnsureSingleInstance() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return ensureSingle(filepath.Base(executable), os.Getpid(), ps.Processes)
}

// ensureSingle scans the process table for name, skipping self.
func ensureSingle(name string, self int, list func() ([]ps.Process, error)) error {
	if len(name) > commLength {
		name = name[:commLength]
	}

	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if process.Executable() != name {
			continue
		}

		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, name, process.Pid())
	}

	return nil
}
