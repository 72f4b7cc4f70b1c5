package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := memory.New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	fs := storetest.NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	fs.Name = "mutated after create"
	got, err := s.GetStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Term 1 2025", got.Name)

	got.Name = "mutated after get"
	again, err := s.GetStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Term 1 2025", again.Name)
}

func TestTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	fs := storetest.NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
				if _, err := tx.GetStudentInvoice(ctx, "sch_1", "stu_1", 2025, 1); err == nil {
					return nil
				}
				return tx.CreateInvoice(ctx, storetest.NewInvoice(fs, "stu_1", 100))
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	n, err := s.CountTermInvoices(ctx, "sch_1", 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRollbackKeepsWritesOutsideTransaction(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	outside := storetest.NewStructure("Outside", 2025, 1)
	inside := storetest.NewStructure("Inside", 2025, 2)

	done := make(chan error, 1)
	boom := errors.New("boom")
	err := s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		go func() { done <- s.CreateStructure(ctx, outside) }()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, tx.CreateStructure(ctx, inside))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, <-done)

	_, err = s.GetStructure(ctx, outside.ID)
	require.NoError(t, err)
	_, err = s.GetStructure(ctx, inside.ID)
	assert.Error(t, err)
}

func TestPingAfterClose(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
