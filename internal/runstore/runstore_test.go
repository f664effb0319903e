package runstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgerun/execgw/internal/execmodel"
)

func TestPutThenGet(t *testing.T) {
	s := New()
	s.Put(execmodel.RunRecord{ID: "run_abc", Status: execmodel.StatusSucceeded})

	rec, err := s.Get("run_abc")
	require.Nil(t, err)
	require.Equal(t, execmodel.StatusSucceeded, rec.Status)
}

func TestGetUnknownIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get("run_missing")
	require.NotNil(t, err)
}

func TestConcurrentPutGet(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "run_concurrent"
			s.Put(execmodel.RunRecord{ID: id, Status: execmodel.StatusSucceeded})
			_, _ = s.Get(id)
		}(i)
	}
	wg.Wait()

	rec, err := s.Get("run_concurrent")
	require.Nil(t, err)
	require.Equal(t, "run_concurrent", rec.ID)
}
