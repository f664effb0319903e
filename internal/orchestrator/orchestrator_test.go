package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
	"github.com/forgerun/execgw/internal/obslog"
	"github.com/forgerun/execgw/internal/runstore"
	"github.com/forgerun/execgw/internal/sandbox"
	"github.com/forgerun/execgw/internal/store"
)

func testOrchestrator(t *testing.T, runner sandbox.Runner) *Orchestrator {
	t.Helper()

	policy, err := limits.New(
		limits.Defaults{Values: limits.Limits{WallMS: 5000, MemoryMiB: 256, CPUMS: 5000, MaxOutputBytes: 4096, MaxArtifactByte: 1 << 20, MaxArtifactFile: 10}},
		limits.Maximums{Values: limits.Limits{WallMS: 60000, MemoryMiB: 1024, CPUMS: 60000, MaxOutputBytes: 1 << 20, MaxArtifactByte: 16 << 20, MaxArtifactFile: 50}},
	)
	require.Nil(t, err)

	uploads, errS := store.New(store.Options{Root: t.TempDir(), SigningKey: []byte("k"), PublicPrefix: "/v1/files"})
	require.Nil(t, errS)
	artifacts, errS := store.New(store.Options{Root: t.TempDir(), SigningKey: []byte("k"), PublicPrefix: "/v1/artifacts"})
	require.Nil(t, errS)

	return &Orchestrator{
		WorkRoot:  t.TempDir(),
		Limits:    policy,
		Uploads:   uploads,
		Artifacts: artifacts,
		Runs:      runstore.New(),
		Runner:    runner,
		Log:       obslog.New("orchestrator-test"),
	}
}

func TestCreateRunSucceeds(t *testing.T) {
	mock := sandbox.MockSucceeding("hello\n")
	o := testOrchestrator(t, mock)

	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "print('hello')",
	}, "tenant-a")

	require.NoError(t, err)
	require.Equal(t, execmodel.StatusSucceeded, rec.Status)
	require.Equal(t, "hello\n", rec.Stdout)
	require.NotEmpty(t, rec.CodeSHA256)
	require.NotEmpty(t, rec.ID)

	stored, getErr := o.Runs.Get(rec.ID)
	require.Nil(t, getErr)
	require.Equal(t, rec.ID, stored.ID)
}

func TestCreateRunOverridesSucceededWithNonzeroExit(t *testing.T) {
	code := 2
	mock := &sandbox.Mock{Result: sandbox.Result{Status: execmodel.StatusSucceeded, ExitCode: &code}}
	o := testOrchestrator(t, mock)

	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{Language: execmodel.LangPython, Code: "exit(2)"}, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusFailed, rec.Status)
}

func TestCreateRunRejectsInvalidRequest(t *testing.T) {
	o := testOrchestrator(t, sandbox.MockSucceeding(""))
	_, err := o.CreateRun(context.Background(), execmodel.RunRequest{Language: "cobol", Code: "x"}, "tenant-a")
	require.Error(t, err)
}

func TestCreateRunRejectsLimitsAboveMaximum(t *testing.T) {
	o := testOrchestrator(t, sandbox.MockSucceeding(""))
	tooHigh := int64(999999)
	_, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "print(1)",
		Limits:   limits.Partial{WallMS: &tooHigh},
	}, "tenant-a")
	require.Error(t, err)
}

func TestCreateRunCollectsArtifactsInOrderUpToCap(t *testing.T) {
	mock := &sandbox.Mock{
		Script: func(ctx context.Context, spec sandbox.Spec, sink sandbox.Sink) (sandbox.Result, error) {
			var candidates []string
			for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
				p, errGo := sandbox.WriteCandidateFile(spec.WorkDir, name, []byte("x"))
				require.NoError(t, errGo)
				candidates = append(candidates, p)
			}
			zero := 0
			return sandbox.Result{Status: execmodel.StatusSucceeded, ExitCode: &zero, Candidates: candidates}, nil
		},
	}
	o := testOrchestrator(t, mock)
	two := int64(2)
	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "write files",
		Limits:   limits.Partial{MaxArtifactFile: &two},
	}, "tenant-a")
	require.NoError(t, err)
	require.Len(t, rec.Artifacts, 2)
	require.Equal(t, "a.txt", rec.Artifacts[0].Name)
	require.Equal(t, "b.txt", rec.Artifacts[1].Name)
}

func TestCreateRunTruncatesOutputToLimit(t *testing.T) {
	mock := sandbox.MockSucceeding("0123456789")
	o := testOrchestrator(t, mock)
	small := int64(4)
	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "print",
		Limits:   limits.Partial{MaxOutputBytes: &small},
	}, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "0123", rec.Stdout)
}

func TestCreateRunStagesFilesFromUploads(t *testing.T) {
	mock := &sandbox.Mock{Result: sandbox.Result{Status: execmodel.StatusSucceeded, ExitCode: intPtr(0)}}
	o := testOrchestrator(t, mock)

	uploaded, errU := o.Uploads.StoreUpload("data.csv", "text/csv", strings.NewReader("a,b,c"))
	require.Nil(t, errU)

	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "read data",
		Files:    []execmodel.FileStage{{FileID: uploaded.ID, Path: "data.csv"}},
	}, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusSucceeded, rec.Status)
	require.Len(t, mock.Calls, 1)
	require.Equal(t, "inputs/data.csv", mock.Calls[0].Staged[0].DestPath)
}

func TestCreateRunRejectsEscapingStagePath(t *testing.T) {
	o := testOrchestrator(t, sandbox.MockSucceeding(""))
	uploaded, errU := o.Uploads.StoreUpload("data.csv", "text/csv", strings.NewReader("x"))
	require.Nil(t, errU)

	_, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "x",
		Files:    []execmodel.FileStage{{FileID: uploaded.ID, Path: "../escape.csv"}},
	}, "tenant-a")
	require.Error(t, err)
}

func TestCreateRunSubstitutesLimitsWhenUsageUnobserved(t *testing.T) {
	mock := sandbox.MockSucceeding("hi")
	o := testOrchestrator(t, mock)

	rec, err := o.CreateRun(context.Background(), execmodel.RunRequest{
		Language: execmodel.LangPython,
		Code:     "print(1)",
	}, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, rec.Limits.WallMS, rec.Usage.WallMS)
	require.Equal(t, rec.Limits.CPUMS, rec.Usage.CPUMS)
	require.Equal(t, rec.Limits.MemoryMiB, rec.Usage.PeakRSSMiB)
}

func intPtr(v int) *int { return &v }
