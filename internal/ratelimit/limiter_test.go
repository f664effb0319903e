package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmitWithinBurst(t *testing.T) {
	l := New(5, 5, time.Minute)
	for i := 0; i < 5; i++ {
		require.Nil(t, l.Admit("tenant-a"))
	}
	require.NotNil(t, l.Admit("tenant-a"))
}

func TestAdmitRefillsOverTime(t *testing.T) {
	l := New(1000, 1, time.Minute)
	require.Nil(t, l.Admit("tenant-b"))
	require.NotNil(t, l.Admit("tenant-b"))

	time.Sleep(20 * time.Millisecond)
	require.Nil(t, l.Admit("tenant-b"))
}

func TestAdmitIsPerTenant(t *testing.T) {
	l := New(1, 1, time.Minute)
	require.Nil(t, l.Admit("tenant-c"))
	require.Nil(t, l.Admit("tenant-d"))
	require.NotNil(t, l.Admit("tenant-c"))
}

func TestSetKeyLimitsOverridesDefaults(t *testing.T) {
	l := New(1, 1, time.Minute)
	l.SetKeyLimits("tenant-e", KeyLimits{RatePerSec: 100, Burst: 5})

	for i := 0; i < 5; i++ {
		require.Nil(t, l.Admit("tenant-e"))
	}
	require.NotNil(t, l.Admit("tenant-e"))
}
