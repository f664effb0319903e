package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
	"github.com/karlmutch/circbuf"

	"github.com/forgerun/execgw/internal/execmodel"
)

// ContainerConfig carries the host-wide settings a Container runner needs:
// per-language image identifiers and the isolation profile paths, mirroring
// spec §6's configuration list. DevMode disables seccomp/AppArmor
// enforcement for local development only.
type ContainerConfig struct {
	Images          map[execmodel.Language]string
	SeccompProfile  string
	AppArmorProfile string
	DevMode         bool
}

// Container is the production sandbox runner: one ephemeral container per
// run, configured per spec §4.5's isolation properties. It shares no code
// with Mock (spec §9's explicit "capability, not a base class" note).
// Grounded on the teacher's internal/runner/singularity.go (container
// invocation shape) and execscript.go (pipe-based capture, wait/kill
// sequencing), generalized from Singularity images to Docker-compatible
// ones and from a single trusted Python target to the full language set.
type Container struct {
	cfg ContainerConfig
}

func NewContainer(cfg ContainerConfig) *Container {
	return &Container{cfg: cfg}
}

func (c *Container) Run(ctx context.Context, spec Spec, sink Sink) (Result, error) {
	image, ok := c.cfg.Images[spec.Language]
	if !ok {
		return Result{}, kv.NewError("no sandbox image configured for language").With("language", string(spec.Language), "stack", stack.Trace().TrimRuntime())
	}

	entryFile := spec.Language.EntryFile()
	if errGo := os.WriteFile(filepath.Join(spec.WorkDir, entryFile), []byte(spec.Code), 0o644); errGo != nil {
		return Result{}, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	argv := c.dockerArgv(image, spec, entryFile)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)

	payload, errGo := json.Marshal(BootstrapSpec{ID: spec.RunID, Args: spec.Args, Env: spec.Env, Limits: spec.Limits})
	if errGo != nil {
		return Result{}, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	cmd.Stdin = bytes.NewReader(payload)

	outCap := spec.Limits.MaxOutputBytes
	if outCap <= 0 {
		outCap = 1 << 20
	}
	stdoutBuf, errGo := circbuf.NewBuffer(outCap)
	if errGo != nil {
		return Result{}, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	stderrBuf, errGo := circbuf.NewBuffer(outCap)
	if errGo != nil {
		return Result{}, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	cmd.Stdout = teeToSink(stdoutBuf, sink, false)
	cmd.Stderr = teeToSink(stderrBuf, sink, true)

	if sink != nil {
		sink.Status("starting")
	}

	deadline := time.Duration(spec.Limits.WallMS) * time.Millisecond
	timer := time.AfterFunc(deadline, cancel)
	defer timer.Stop()

	startErr := cmd.Start()
	if startErr != nil {
		return Result{}, kv.Wrap(startErr).With("stack", stack.Trace().TrimRuntime())
	}

	// Sampling the docker client's own pid is a coarse approximation of the
	// contained process tree; it is strictly a fallback for when
	// usage.json never gets written, not a replacement for it.
	var sampler *usageSampler
	if cmd.Process != nil {
		sampler = startUsageSampler(cmd.Process.Pid)
	}

	waitErr := cmd.Wait()
	timerFired := !timer.Stop()

	var sampled execmodel.Usage
	if sampler != nil {
		sampled = sampler.Stop()
	}

	status, exitCode := classifyExit(waitErr, timerFired, runCtx.Err() != nil)
	usage := mergeUsage(readUsageFile(spec.WorkDir), sampled)
	candidates := listCandidates(filepath.Join(spec.WorkDir, "outputs"))

	if sink != nil {
		sink.Status(string(status))
	}

	return Result{
		Status:     status,
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.Bytes(),
		Stderr:     stderrBuf.Bytes(),
		Usage:      usage,
		Candidates: candidates,
	}, nil
}

// dockerArgv builds the isolated container invocation: no network,
// read-only rootfs with an explicit writable workdir bind mount, dropped
// capabilities, no-new-privileges, bounded process count, and the
// CPU/memory caps taken from the effective limits. DevMode skips the
// seccomp/AppArmor flags for local iteration without the profiles built.
func (c *Container) dockerArgv(image string, spec Spec, entryFile string) []string {
	argv := []string{
		"docker", "run", "--rm", "-i",
		"--network", "none",
		"--read-only",
		"--mount", fmt.Sprintf("type=bind,source=%s,target=/work", spec.WorkDir),
		"--tmpfs", "/work/tmp",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--pids-limit", "64",
		"--memory", fmt.Sprintf("%dm", spec.Limits.MemoryMiB),
		"--cpus", fmt.Sprintf("%.2f", float64(spec.Limits.CPUMS)/float64(spec.Limits.WallMS)),
	}
	if !c.cfg.DevMode {
		if c.cfg.SeccompProfile != "" {
			argv = append(argv, "--security-opt", "seccomp="+c.cfg.SeccompProfile)
		}
		if c.cfg.AppArmorProfile != "" {
			argv = append(argv, "--security-opt", "apparmor="+c.cfg.AppArmorProfile)
		}
	} else {
		argv = append(argv, "--security-opt", "seccomp=unconfined")
	}
	argv = append(argv, image, "/bootstrap", string(spec.Language), entryFile, "--")
	argv = append(argv, spec.Args...)
	return argv
}

// classifyExit applies the status mapping table of spec §4.5: a clean exit
// is succeeded, a timer or context kill is timeout, exit 137 is oom, a
// process that never produced an exit status is killed, and any other
// nonzero exit is failed. The orchestrator's override rule (spec §4.4 step
// 9) is applied separately, on top of this result.
func classifyExit(waitErr error, timerFired bool, ctxDone bool) (execmodel.Status, *int) {
	if waitErr == nil {
		code := 0
		return execmodel.StatusSucceeded, &code
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		// Process never started or was reaped outside our control: treat
		// as an administrative termination.
		return execmodel.StatusKilled, nil
	}
	code := exitErr.ExitCode()
	if timerFired || (ctxDone && code < 0) {
		return execmodel.StatusTimeout, intPtr(124)
	}
	if code == 137 {
		return execmodel.StatusOOM, intPtr(code)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() && status.Signal() == syscall.SIGKILL && timerFired {
		return execmodel.StatusTimeout, intPtr(124)
	}
	return execmodel.StatusFailed, intPtr(code)
}

func intPtr(v int) *int { return &v }

// readUsageFile reads the bootstrap-written usage.json; a missing or
// unparseable file returns a zero Usage, leaving the limits-as-upper-bound
// substitution to the orchestrator (spec §4.5), and to
// internal/sandbox/usage.go's host-side sampling fallback in between.
func readUsageFile(workDir string) execmodel.Usage {
	data, errGo := os.ReadFile(filepath.Join(workDir, "usage.json"))
	if errGo != nil {
		return execmodel.Usage{}
	}
	var usage execmodel.Usage
	if errGo := json.Unmarshal(data, &usage); errGo != nil {
		return execmodel.Usage{}
	}
	return usage
}

// listCandidates walks outputs/ in directory order, returning absolute
// paths for the orchestrator to filter and collect (spec §4.4 step 10).
func listCandidates(outputsDir string) []string {
	entries, errGo := os.ReadDir(outputsDir)
	if errGo != nil {
		return nil
	}
	candidates := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		candidates = append(candidates, filepath.Join(outputsDir, e.Name()))
	}
	return candidates
}

// teeToSink wraps a circbuf.Buffer so every write is also forwarded to the
// streaming sink (if any) as an incremental frame, matching spec §4.7's
// "forward incremental frames" responsibility without giving the sink a
// second, racing writer.
func teeToSink(buf *circbuf.Buffer, sink Sink, isStderr bool) *sinkWriter {
	return &sinkWriter{buf: buf, sink: sink, isStderr: isStderr}
}

type sinkWriter struct {
	mu       sync.Mutex
	buf      *circbuf.Buffer
	sink     Sink
	isStderr bool
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, errGo := w.buf.Write(p)
	if w.sink != nil {
		if w.isStderr {
			w.sink.Stderr(p)
		} else {
			w.sink.Stdout(p)
		}
	}
	return n, errGo
}
