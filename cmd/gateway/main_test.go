package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgerun/execgw/internal/config"
	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
)

func TestRunWiresServerWithoutError(t *testing.T) {
	cfg := config.Config{
		ListenAddr:  "127.0.0.1:0",
		WorkRoot:    t.TempDir(),
		StorageRoot: t.TempDir(),
		SigningKey:  []byte("test-signing-key"),
		DefaultLimits: limits.Defaults{Values: limits.Limits{
			WallMS: 5000, MemoryMiB: 256, CPUMS: 5000, MaxOutputBytes: 4096, MaxArtifactByte: 1 << 20, MaxArtifactFile: 10,
		}},
		MaxLimits: limits.Maximums{Values: limits.Limits{
			WallMS: 60000, MemoryMiB: 1024, CPUMS: 60000, MaxOutputBytes: 1 << 20, MaxArtifactByte: 16 << 20, MaxArtifactFile: 50,
		}},
		DefaultRatePerSec: 2,
		DefaultBurst:      10,
		Images: map[execmodel.Language]string{
			execmodel.LangPython: "execgw/sandbox-python:latest",
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := Run(ctx, cancel, cfg)
	require.Empty(t, errs)

	time.Sleep(50 * time.Millisecond)
}
