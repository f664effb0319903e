// Package sandbox implements the polymorphic sandbox-runner capability of
// spec §4.5 and §9: a single Run(spec) -> result operation with two
// implementations (container-backed, mock) that share no code, matching the
// design note that this must be a capability, never a base class.
package sandbox

import (
	"context"

	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
)

// StagedFile is a file the orchestrator already copied into the workdir's
// inputs/ directory before invoking the sandbox.
type StagedFile struct {
	DestPath string
}

// Spec is the fully prepared run specification handed to a Runner: run id,
// language, code, args, sanitized env, workdir, effective limits and staged
// files (spec §4.4 step 8).
type Spec struct {
	RunID   string
	Language execmodel.Language
	Code     string
	Args     []string
	Env      map[string]string
	WorkDir  string
	Limits   limits.Limits
	Staged   []StagedFile
}

// Result is what a Runner produces: status, exit code, captured buffers,
// usage, and the candidate artifact paths the orchestrator will filter and
// collect (spec §4.4 step 10).
type Result struct {
	Status     execmodel.Status
	ExitCode   *int
	Stdout     []byte
	Stderr     []byte
	Usage      execmodel.Usage
	Candidates []string
}

// Sink receives incremental frames while a run is in flight. It is nil for
// the synchronous path (spec §4.7); the streaming variant installs one.
type Sink interface {
	Stdout(chunk []byte)
	Stderr(chunk []byte)
	Status(stage string)
}

// Runner is the single operation the orchestrator depends on. Two
// implementations are provided: Container (production) and Mock (tests).
type Runner interface {
	Run(ctx context.Context, spec Spec, sink Sink) (Result, error)
}
