// Package execmodel contains the wire and storage data types shared across
// the gateway: languages, run requests/records, usage, and the descriptors
// handed back for uploaded and produced files (spec §3).
package execmodel

import (
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/limits"
)

// Language is the closed set of supported execution targets.
type Language string

const (
	LangPython Language = "python"
	LangNode   Language = "node"
	LangRuby   Language = "ruby"
	LangPHP    Language = "php"
	LangGo     Language = "go"
)

var supportedLanguages = map[Language]struct{}{
	LangPython: {},
	LangNode:   {},
	LangRuby:   {},
	LangPHP:    {},
	LangGo:     {},
}

// Valid reports whether l is one of the closed set of supported languages.
// The set is fixed in supportedLanguages above; only the sandbox image used
// per language is configuration (config.Config.Images).
func (l Language) Valid() bool {
	_, ok := supportedLanguages[l]
	return ok
}

// EntryFile returns the conventional entry-file name the sandbox
// materializes the submitted code body into.
func (l Language) EntryFile() string {
	switch l {
	case LangPython:
		return "main.py"
	case LangNode:
		return "main.js"
	case LangRuby:
		return "main.rb"
	case LangPHP:
		return "main.php"
	case LangGo:
		return "main.go"
	default:
		return "main"
	}
}

// Status is the closed set of externally visible run outcomes.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusOOM       Status = "oom"
	StatusKilled    Status = "killed"
)

// MaxCodeBytes bounds the code body accepted in a RunRequest.
const MaxCodeBytes = 200 * 1024

// FileStage pairs an uploaded file id with the relative destination path it
// should be copied to under the sandbox's inputs/ directory.
type FileStage struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// RunRequest is the validated shape of an incoming run submission.
type RunRequest struct {
	Language     Language          `json:"language"`
	Code         string            `json:"code"`
	Args         []string          `json:"args,omitempty"`
	Files        []FileStage       `json:"files,omitempty"`
	Limits       limits.Partial    `json:"limits,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// Validate checks the two request-level invariants owned by this package:
// the language is in the closed set, and the code body is non-empty and
// within the size cap. Limits merging happens separately (spec §4.1).
func (r *RunRequest) Validate() (err kv.Error) {
	if !r.Language.Valid() {
		return kv.NewError("unsupported language").With("language", string(r.Language), "stack", stack.Trace().TrimRuntime())
	}
	if len(r.Code) == 0 {
		return kv.NewError("code must not be empty").With("stack", stack.Trace().TrimRuntime())
	}
	if len(r.Code) > MaxCodeBytes {
		return kv.NewError("code exceeds maximum size").With("max", MaxCodeBytes, "stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// Usage is the observed resource consumption of a single run.
type Usage struct {
	WallMS     int64 `json:"wall_ms"`
	CPUMS      int64 `json:"cpu_ms"`
	PeakRSSMiB int64 `json:"peak_rss_mib"`
}

// Artifact describes a file produced by a run and reachable only through its
// signed URL.
type Artifact struct {
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
	ContentType string    `json:"content_type"`
}

// RunRecord is the full result of a run: what is returned to the caller and
// what the run store persists under the run id.
type RunRecord struct {
	ID         string         `json:"id"`
	Status     Status         `json:"status"`
	ExitCode   *int           `json:"exit_code"`
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr"`
	Usage      Usage          `json:"usage"`
	Artifacts  []Artifact     `json:"artifacts"`
	Limits     limits.Limits  `json:"limits"`
	CreatedAt  time.Time      `json:"created_at"`
	Language   Language       `json:"language"`
	CodeSHA256 string         `json:"code_sha256"`
}

// UploadedFile describes a previously uploaded input file, persisted
// alongside its sidecar metadata record so descriptors survive process
// restarts as long as the store directory does.
type UploadedFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
