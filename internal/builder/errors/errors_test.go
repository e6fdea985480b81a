package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestBuildErrorUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("esbuild: unexpected token")
	err := fmt.Errorf("building variant: %w", NewBundlerError(cause))

	if !errors.Is(err, cause) {
		t.Fatal("expected the bundler cause to stay reachable through the chain")
	}
	if !IsCategory(err, CategoryBundler) {
		t.Errorf("expected category %q", CategoryBundler)
	}
	if got := CodeOf(err); got != CodeBundlerFailed {
		t.Errorf("CodeOf = %q, want %q", got, CodeBundlerFailed)
	}
	if err.Error() != "building variant: esbuild: unexpected token" {
		t.Errorf("bundler error text must surface unchanged, got %q", err.Error())
	}
}

func TestWorkspaceErrorWrapsPathError(t *testing.T) {
	err := NewWorkspaceError(&os.PathError{Op: "mkdir", Path: "/x", Err: os.ErrPermission})
	if !errors.Is(err, os.ErrPermission) {
		t.Error("expected os.ErrPermission in chain")
	}
	if err.Category != CategoryWorkspace {
		t.Errorf("category = %q", err.Category)
	}
}

func TestToResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		category string
	}{
		{"config", NewConfigError(errors.New("bad json")), CodeInvalidConfig, CategoryConfig},
		{"timeout", NewBuildTimeoutError(2 * time.Minute), CodeBuildTimeout, CategoryTimeout},
		{"unknown filter", NewUnknownFilterError("nope"), CodeUnknownFilter, CategoryFilter},
		{"missing", NewArtifactMissingError("/c/abc.js"), CodeArtifactMissing, CategoryArtifact},
		{"plain", errors.New("boom"), CodeBundlerFailed, CategoryBundler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ToResponse(tt.err)
			if resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if resp.Category != tt.category {
				t.Errorf("category = %q, want %q", resp.Category, tt.category)
			}
			if resp.Error == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestWithDigestAndOutput(t *testing.T) {
	err := NewBundlerError(errors.New("exit status 1")).WithDigest("abc").WithOutput("stderr text")
	resp := err.ToResponse()
	if resp.Digest != "abc" || resp.Output != "stderr text" {
		t.Errorf("unexpected response %+v", resp)
	}
}
