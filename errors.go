package pipeline

import (
	"fmt"

	"github.com/goliatone/go-errors"
)

// Text codes attached to pipeline errors.
const (
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeTaskFailed       = "TASK_FAILED"
	CodeTaskPanic        = "TASK_PANIC"
	CodeGraphInvalid     = "GRAPH_INVALID"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeManifestInvalid  = "MANIFEST_INVALID"
	CodeManifestCycle    = "MANIFEST_CYCLE"
	CodeTranspileFailed  = "TRANSPILE_FAILED"
	CodeTypecheckFailed  = "TYPECHECK_FAILED"
	CodeSassFailed       = "SASS_COMPILE_FAILED"
	CodeMinifyFailed     = "MINIFY_FAILED"
	CodeDeployFailed     = "DEPLOY_FAILED"
	CodeBundleInvalid    = "BUNDLE_INVALID"
	CodeReadFailed       = "FS_READ_ERROR"
	CodeWriteFailed      = "FS_WRITE_ERROR"
	CodeCleanFailed      = "CLEAN_FAILED"
	CodeServerFailed     = "SERVER_FAILED"
	CodeWatchFailed      = "WATCH_FAILED"
	CodeAnnotationFailed = "ANNOTATE_FAILED"
	CodeReportFailed     = "REPORT_FAILED"
)

var (
	// ErrTaskSkipped marks a task whose dependency failed in the same invocation.
	ErrTaskSkipped = errors.New("task skipped: dependency failed", errors.CategoryOperation).
			WithTextCode("TASK_SKIPPED")
)

// HasTextCode reports whether err (or anything it wraps) is a pipeline error
// carrying the given text code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var perr *errors.Error
		if !errors.As(err, &perr) {
			return false
		}
		if perr.TextCode == code {
			return true
		}
		err = perr.Source
	}
	return false
}

// chain builds a new categorised error with cause as its source. Unlike
// errors.Wrap it never folds an existing *errors.Error into the new one, so the
// text codes of every layer stay reachable through HasTextCode.
func chain(cause error, category errors.Category, code, msg string) *errors.Error {
	e := errors.New(msg, category).WithTextCode(code)
	e.Source = cause
	return e
}

func readError(err error, path string) error {
	return chain(err, errors.CategoryInternal, CodeReadFailed, fmt.Sprintf("failed to read %s", path)).
		WithMetadata(map[string]any{"path": path})
}

func writeError(err error, path string) error {
	return chain(err, errors.CategoryInternal, CodeWriteFailed, fmt.Sprintf("failed to write %s", path)).
		WithMetadata(map[string]any{"path": path})
}

func badInput(code, msg string, meta map[string]any) error {
	e := errors.New(msg, errors.CategoryBadInput).WithTextCode(code)
	if len(meta) > 0 {
		e = e.WithMetadata(meta)
	}
	return e
}
