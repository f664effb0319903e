// Package orchestrator implements the heart of the gateway (spec §4.4): the
// createRun pipeline that validates a request, merges its limits, stages
// input files, invokes the sandbox runner, classifies the outcome,
// collects artifacts, and persists the resulting run record. Grounded on
// the teacher's top-level run lifecycle in internal/runner/execscript.go
// and artifacts.go, generalized from a single queue-consumed job to a
// synchronous/streaming request served directly by this process.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/apierr"
	"github.com/forgerun/execgw/internal/defense"
	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
	"github.com/forgerun/execgw/internal/metrics"
	"github.com/forgerun/execgw/internal/obslog"
	"github.com/forgerun/execgw/internal/runstore"
	"github.com/forgerun/execgw/internal/sandbox"
	"github.com/forgerun/execgw/internal/store"
)

// maxSingleStagedFile and maxCumulativeStaged are the two file-staging caps
// spec §4.4 step 5 names explicitly, independent of the run's artifact
// limits (which bound outputs, not inputs).
const (
	maxSingleStagedFile = 10 * 1024 * 1024
	maxCumulativeStaged = 25 * 1024 * 1024
)

// Orchestrator composes every other component into the single createRun
// operation. Nothing here blocks the caller beyond the sandbox's own
// execution; staging and artifact collection are ordinary filesystem work.
type Orchestrator struct {
	WorkRoot string

	Limits    *limits.Policy
	Uploads   *store.Store
	Artifacts *store.Store
	Runs      *runstore.Store
	Runner    sandbox.Runner
	Log       *obslog.Logger
}

// CreateRun runs the full synchronous pipeline of spec §4.4 and returns the
// completed run record.
func (o *Orchestrator) CreateRun(ctx context.Context, req execmodel.RunRequest, tenantID string) (rec execmodel.RunRecord, err error) {
	return o.createRun(ctx, req, tenantID, nil, "")
}

// CreateRunWithStreaming is identical to CreateRun except the sandbox is
// given a sink, so the caller observes incremental frames as the run
// progresses (spec §4.4's streaming variant, §4.7's frame contract).
// presetRunID is the synthetic id the HTTP layer already handed back to
// the caller at admission (spec §4.7): the pipeline uses it instead of
// minting its own, so the id the subscriber watches and the id the final
// record carries are the same one.
func (o *Orchestrator) CreateRunWithStreaming(ctx context.Context, req execmodel.RunRequest, tenantID string, sink sandbox.Sink, presetRunID string) (rec execmodel.RunRecord, err error) {
	return o.createRun(ctx, req, tenantID, sink, presetRunID)
}

func (o *Orchestrator) createRun(ctx context.Context, req execmodel.RunRequest, tenantID string, sink sandbox.Sink, presetRunID string) (rec execmodel.RunRecord, err error) {
	metrics.RunStarted()

	// 1. Validate
	if verr := req.Validate(); verr != nil {
		return rec, apierr.New(apierr.Validation, verr)
	}

	// 2. Merge limits
	effective, merr := o.Limits.Merge(req.Limits)
	if merr != nil {
		return rec, apierr.New(apierr.Validation, merr)
	}

	// 3. Mint run id
	runID := presetRunID
	if runID == "" {
		var idErr kv.Error
		runID, idErr = store.NewRunID()
		if idErr != nil {
			return rec, apierr.New(apierr.SandboxFailure, idErr)
		}
	}
	log := o.Log.WithRun(runID)

	// 4. Create workdir
	workDir := filepath.Join(o.WorkRoot, runID)
	for _, sub := range []string{"inputs", "outputs"} {
		if errGo := os.MkdirAll(filepath.Join(workDir, sub), 0o700); errGo != nil {
			return rec, apierr.New(apierr.SandboxFailure, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
		}
	}
	defer func() {
		// 13. Delete workdir best-effort; errors are logged, not propagated.
		if errGo := os.RemoveAll(workDir); errGo != nil {
			log.Warn("failed to remove workdir", "error", errGo.Error())
		}
	}()

	// 5. Stage inputs
	staged, stageErr := o.stageInputs(workDir, req.Files)
	if stageErr != nil {
		return rec, stageErr
	}

	// 6. Hash code
	sum := sha256.Sum256([]byte(req.Code))
	codeSHA := hex.EncodeToString(sum[:])

	// 7. Build environment
	env := defense.SanitizeEnv(req.Env)

	// 8. Invoke sandbox
	spec := sandbox.Spec{
		RunID:    runID,
		Language: req.Language,
		Code:     req.Code,
		Args:     req.Args,
		Env:      env,
		WorkDir:  workDir,
		Limits:   effective,
		Staged:   staged,
	}

	result, runErr := o.Runner.Run(ctx, spec, sink)
	if runErr != nil {
		return rec, apierr.New(apierr.SandboxFailure, kv.Wrap(runErr).With("runId", runID).With("stack", stack.Trace().TrimRuntime()))
	}

	// 9. Classify status
	status, exitCode := classify(result)

	// usage accounting falls back to the run's effective limits as a
	// conservative upper bound when neither the sandbox's usage.json nor
	// the host-side sampler observed anything (e.g. the container died
	// before either could run).
	usage := result.Usage
	if usage == (execmodel.Usage{}) {
		usage = execmodel.Usage{WallMS: effective.WallMS, CPUMS: effective.CPUMS, PeakRSSMiB: effective.MemoryMiB}
	}

	// 10. Collect artifacts
	artifacts, collectErr := o.collectArtifacts(workDir, result.Candidates, effective)
	if collectErr != nil {
		log.Warn("artifact collection error", "error", collectErr.Error())
	}

	// 11. Truncate captured streams
	stdout := truncateBytes(result.Stdout, effective.MaxOutputBytes)
	stderr := truncateBytes(result.Stderr, effective.MaxOutputBytes)

	// 12. Assemble record
	rec = execmodel.RunRecord{
		ID:         runID,
		Status:     status,
		ExitCode:   exitCode,
		Stdout:     string(stdout),
		Stderr:     string(stderr),
		Usage:      usage,
		Artifacts:  artifacts,
		Limits:     effective,
		CreatedAt:  time.Now(),
		Language:   req.Language,
		CodeSHA256: codeSHA,
	}

	metrics.RunCompleted(string(status), string(req.Language))

	// 14. workdir removal happens in the deferred func above; save then return.
	o.Runs.Put(rec)
	return rec, nil
}

// stageInputs copies each requested (fileId, destPath) pair into
// workDir/inputs, enforcing spec §4.4 step 5's path and size rules.
func (o *Orchestrator) stageInputs(workDir string, files []execmodel.FileStage) ([]sandbox.StagedFile, error) {
	staged := make([]sandbox.StagedFile, 0, len(files))
	var cumulative int64

	for _, f := range files {
		if errGo := defense.ValidateStagePath(f.Path); errGo != nil {
			return nil, errGo
		}

		uploaded, lookErr := o.Uploads.LookupUpload(f.FileID)
		if lookErr != nil {
			return nil, apierr.New(apierr.NotFound, lookErr)
		}

		if uploaded.SizeBytes > maxSingleStagedFile {
			return nil, apierr.New(apierr.Validation, kv.NewError("staged file exceeds per-file cap").With("fileId", f.FileID, "stack", stack.Trace().TrimRuntime()))
		}
		cumulative += uploaded.SizeBytes
		if cumulative > maxCumulativeStaged {
			return nil, apierr.New(apierr.Validation, kv.NewError("cumulative staged size exceeds cap").With("stack", stack.Trace().TrimRuntime()))
		}

		dest := filepath.Join(workDir, "inputs", f.Path)
		if errGo := os.MkdirAll(filepath.Dir(dest), 0o755); errGo != nil {
			return nil, apierr.New(apierr.SandboxFailure, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
		}
		if errGo := copyFile(uploaded.Path, dest); errGo != nil {
			return nil, apierr.New(apierr.SandboxFailure, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
		}

		staged = append(staged, sandbox.StagedFile{DestPath: filepath.Join("inputs", f.Path)})
	}
	return staged, nil
}

// collectArtifacts iterates the sandbox's candidate list in order, dropping
// anything not under workDir/outputs, stopping once either cap would be
// exceeded, and moving survivors into the artifact store (spec §4.4 step
// 10).
func (o *Orchestrator) collectArtifacts(workDir string, candidates []string, effective limits.Limits) ([]execmodel.Artifact, error) {
	outputsDir, errGo := filepath.Abs(filepath.Join(workDir, "outputs"))
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	artifacts := make([]execmodel.Artifact, 0, len(candidates))
	var count, totalBytes int64

	for _, candidate := range candidates {
		abs, errGo := filepath.Abs(candidate)
		if errGo != nil {
			continue
		}
		rel, errGo := filepath.Rel(outputsDir, abs)
		if errGo != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}

		info, errGo := os.Stat(abs)
		if errGo != nil {
			continue
		}

		if count+1 > effective.MaxArtifactFile || totalBytes+info.Size() > effective.MaxArtifactByte {
			break
		}

		art, ingestErr := o.Artifacts.IngestArtifact(filepath.Base(abs), "application/octet-stream", abs)
		if ingestErr != nil {
			return artifacts, ingestErr
		}
		metrics.ArtifactBytesStored(art.SizeBytes)

		artifacts = append(artifacts, art)
		count++
		totalBytes += info.Size()
	}
	return artifacts, nil
}

func truncateBytes(b []byte, max int64) []byte {
	if max <= 0 || int64(len(b)) <= max {
		return b
	}
	return b[:max]
}

func copyFile(src, dest string) error {
	in, errGo := os.Open(src)
	if errGo != nil {
		return errGo
	}
	defer in.Close()

	out, errGo := os.Create(dest)
	if errGo != nil {
		return errGo
	}
	defer out.Close()

	_, errGo = io.Copy(out, in)
	return errGo
}
