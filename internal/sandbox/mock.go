package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/forgerun/execgw/internal/execmodel"
)

// Mock is the test-only Runner of spec §4.5/§9: same Run contract as
// Container, zero shared implementation, no subprocess, no container
// engine. Every call returns the same canned Result (or the result of a
// Script func for dynamic behavior) so orchestrator tests can drive every
// status/classification path without a container runtime available.
type Mock struct {
	// Script, if set, is called instead of the canned Result/Err fields,
	// letting a test synthesize sink frames or inspect the Spec it was
	// handed.
	Script func(ctx context.Context, spec Spec, sink Sink) (Result, error)

	// Result/Err are returned verbatim when Script is nil.
	Result Result
	Err    error

	// Delay simulates the sandbox taking observable wall-clock time,
	// useful for exercising streaming frame ordering and context
	// cancellation in tests.
	Delay time.Duration

	Calls []Spec
}

func (m *Mock) Run(ctx context.Context, spec Spec, sink Sink) (Result, error) {
	m.Calls = append(m.Calls, spec)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Result{Status: execmodel.StatusKilled}, ctx.Err()
		}
	}

	if sink != nil {
		sink.Status("starting")
	}

	if m.Script != nil {
		return m.Script(ctx, spec, sink)
	}

	if sink != nil && len(m.Result.Stdout) > 0 {
		sink.Stdout(m.Result.Stdout)
	}
	if sink != nil && len(m.Result.Stderr) > 0 {
		sink.Stderr(m.Result.Stderr)
	}
	return m.Result, m.Err
}

// MockSucceeding returns a Mock that reports a clean exit (status
// succeeded, exit code 0) with the given stdout and no stderr, usage or
// artifact candidates, useful as a quick default in tests that only care
// about the orchestrator's bookkeeping.
func MockSucceeding(stdout string) *Mock {
	zero := 0
	return &Mock{
		Result: Result{
			Status:   execmodel.StatusSucceeded,
			ExitCode: &zero,
			Stdout:   []byte(stdout),
		},
	}
}

// WriteCandidateFile is a test helper that materializes a file under a
// run's outputs/ directory so a Mock's Result.Candidates can reference it,
// exercising the orchestrator's real artifact-collection path instead of a
// stubbed one.
func WriteCandidateFile(workDir, name string, contents []byte) (string, error) {
	dir := filepath.Join(workDir, "outputs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
