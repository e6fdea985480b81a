// Package errors provides the error taxonomy for bundle builds.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error categories for build failures.
const (
	CategoryConfig    = "config"
	CategoryWorkspace = "workspace"
	CategoryBundler   = "bundler"
	CategoryFilter    = "filter"
	CategoryArtifact  = "artifact"
	CategoryArchive   = "archive"
	CategoryTimeout   = "timeout"
)

// Error codes for specific failure types.
const (
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeWorkspaceFailed = "WORKSPACE_FAILED"
	CodeBundlerFailed   = "BUNDLER_FAILED"
	CodeUnknownFilter   = "UNKNOWN_FILTER"
	CodeFilterFailed    = "FILTER_FAILED"
	CodeArtifactMissing = "ARTIFACT_MISSING"
	CodeArchiveFailed   = "ARCHIVE_FAILED"
	CodeBuildTimeout    = "BUILD_TIMEOUT"
)

// BuildErrorResponse is the JSON payload returned to clients for a failed build.
type BuildErrorResponse struct {
	// Error is the main error message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Category groups errors by pipeline stage.
	Category string `json:"category"`

	// Digest is the cache key of the failed build, when one was derived.
	Digest string `json:"digest,omitempty"`

	// Output holds captured bundler output, if any.
	Output string `json:"output,omitempty"`
}

// BuildError is an error raised by one stage of a build.
type BuildError struct {
	Err      error
	Code     string
	Category string
	Digest   string
	Output   string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Code)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// ToResponse converts the BuildError to a BuildErrorResponse.
func (e *BuildError) ToResponse() *BuildErrorResponse {
	return &BuildErrorResponse{
		Error:    e.Error(),
		Code:     e.Code,
		Category: e.Category,
		Digest:   e.Digest,
		Output:   e.Output,
	}
}

// NewBuildError creates a new BuildError with the given parameters.
func NewBuildError(err error, code, category string) *BuildError {
	return &BuildError{
		Err:      err,
		Code:     code,
		Category: category,
	}
}

// WithDigest sets the cache key on the error.
func (e *BuildError) WithDigest(digest string) *BuildError {
	e.Digest = digest
	return e
}

// WithOutput attaches captured tool output to the error.
func (e *BuildError) WithOutput(output string) *BuildError {
	e.Output = output
	return e
}

// NewConfigError creates an error for malformed request parameters.
func NewConfigError(err error) *BuildError {
	return NewBuildError(fmt.Errorf("invalid build configuration: %w", err), CodeInvalidConfig, CategoryConfig)
}

// NewWorkspaceError creates an error for workspace preparation failures.
func NewWorkspaceError(err error) *BuildError {
	return NewBuildError(fmt.Errorf("preparing workspace: %w", err), CodeWorkspaceFailed, CategoryWorkspace)
}

// NewBundlerError creates an error for a failed bundler invocation. The
// bundler's own error is kept as the cause.
func NewBundlerError(err error) *BuildError {
	return NewBuildError(err, CodeBundlerFailed, CategoryBundler)
}

// NewUnknownFilterError creates an error for a filter id that is not registered.
func NewUnknownFilterError(name string) *BuildError {
	return NewBuildError(fmt.Errorf("unknown filter %q", name), CodeUnknownFilter, CategoryFilter)
}

// NewFilterError creates an error for a failed post-processing filter.
func NewFilterError(name string, err error) *BuildError {
	return NewBuildError(fmt.Errorf("filter %q: %w", name, err), CodeFilterFailed, CategoryFilter)
}

// NewArtifactMissingError creates an error for an artifact that is absent
// from disk even after a rebuild.
func NewArtifactMissingError(path string) *BuildError {
	return NewBuildError(fmt.Errorf("artifact %s is missing", path), CodeArtifactMissing, CategoryArtifact)
}

// NewArchiveError creates an error for archive packaging failures.
func NewArchiveError(err error) *BuildError {
	return NewBuildError(fmt.Errorf("assembling archive: %w", err), CodeArchiveFailed, CategoryArchive)
}

// NewBuildTimeoutError creates an error for builds that exceeded their deadline.
func NewBuildTimeoutError(timeout time.Duration) *BuildError {
	return NewBuildError(
		fmt.Errorf("build exceeded timeout limit of %s", timeout),
		CodeBuildTimeout,
		CategoryTimeout,
	)
}

// AsBuildError extracts a BuildError from an error chain.
func AsBuildError(err error) (*BuildError, bool) {
	var be *BuildError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsCategory reports whether err carries a BuildError of the given category.
func IsCategory(err error, category string) bool {
	be, ok := AsBuildError(err)
	return ok && be.Category == category
}

// CodeOf returns the error code carried by err, or "" when err is not a BuildError.
func CodeOf(err error) string {
	if be, ok := AsBuildError(err); ok {
		return be.Code
	}
	return ""
}

// ToResponse converts any error to a BuildErrorResponse. Errors outside the
// taxonomy are reported as bundler failures.
func ToResponse(err error) *BuildErrorResponse {
	if be, ok := AsBuildError(err); ok {
		return be.ToResponse()
	}
	return &BuildErrorResponse{
		Error:    err.Error(),
		Code:     CodeBundlerFailed,
		Category: CategoryBundler,
	}
}
