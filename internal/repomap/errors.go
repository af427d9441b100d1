package repomap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolMissing indicates no AST tool candidate responded.
	ErrToolMissing = errors.New("ast-grep not found")
	// ErrToolTooOld indicates the AST tool is below MinToolVersion.
	ErrToolTooOld = errors.New("ast-grep version too old")
	// ErrMapExists is returned by Init when a map exists and Force is not set.
	ErrMapExists = errors.New("repo map already exists")
	// ErrMapNotFound is returned when an operation needs a persisted map.
	ErrMapNotFound = errors.New("repo map not found")
	// ErrNeedsFullRebuild marks failures that only a full rebuild can recover from.
	ErrNeedsFullRebuild = errors.New("repo map needs full rebuild")
	// ErrCommitNotFound indicates a commit is invalid or absent from the repository.
	ErrCommitNotFound = errors.New("commit not found")
	// ErrLocked indicates another process holds the repo map lock.
	ErrLocked = errors.New("repo map is locked by another process")
)

// UpdateError is the structured failure of an incremental update.
type UpdateError struct {
	Message          string
	NeedsFullRebuild bool
	FailedFiles      []string
	Err              error
}

func (e *UpdateError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if len(e.FailedFiles) > 0 {
		fmt.Fprintf(&sb, " (failed files: %s)", strings.Join(e.FailedFiles, ", "))
	}
	return sb.String()
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is reports ErrNeedsFullRebuild for errors that require a rebuild.
func (e *UpdateError) Is(target error) bool {
	return target == ErrNeedsFullRebuild && e.NeedsFullRebuild
}

func rebuildError(msg string, err error, failed []string) *UpdateError {
	return &UpdateError{
		Message:          msg,
		NeedsFullRebuild: true,
		FailedFiles:      failed,
		Err:              err,
	}
}
