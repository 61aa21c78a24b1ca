package pipeline

import "fmt"

// Stage identifies where in the run a fatal error occurred; each stage maps
// to the process exit code the CLI contract defines.
type Stage int

const (
	// StageVerify: reference-data verification failed (exit 2).
	StageVerify Stage = iota
	// StageIngest: input discovery or a fatal parse problem (exit 3).
	StageIngest
	// StagePersist: database failure mid-run (exit 4).
	StagePersist
	// StageCancelled: cooperative cancellation (exit 130).
	StageCancelled
)

func (s Stage) String() string {
	switch s {
	case StageVerify:
		return "reference verification"
	case StageIngest:
		return "claim ingest"
	case StagePersist:
		return "claim persistence"
	case StageCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExitCode maps the stage to the CLI exit code.
func (s Stage) ExitCode() int {
	switch s {
	case StageVerify:
		return 2
	case StageIngest:
		return 3
	case StagePersist:
		return 4
	case StageCancelled:
		return 130
	default:
		return 1
	}
}

// StageError wraps a fatal pipeline error with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
