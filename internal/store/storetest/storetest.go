// Package storetest provides a throwaway store for stage tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rootsploit/infoauto/internal/store"
	"github.com/stretchr/testify/require"
)

// New opens a sqlite store under t.TempDir, closed when the test ends.
func New(t testing.TB) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Seed appends names to sheet.
func Seed(t testing.TB, s store.Store, sheet string, names ...string) {
	t.Helper()
	_, err := s.Append(context.Background(), sheet, names)
	require.NoError(t, err)
}

// Set writes column values on existing rows.
func Set(t testing.TB, s store.Store, sheet, column string, values map[string]string) {
	t.Helper()
	_, err := s.Update(context.Background(), sheet, column, values)
	require.NoError(t, err)
}

// Names returns every row name of sheet in insertion order.
func Names(t testing.TB, s store.Store, sheet string) []string {
	t.Helper()
	rows, err := s.Rows(context.Background(), sheet, store.All(), 0)
	require.NoError(t, err)
	return store.Names(rows)
}

// Column returns name -> value for every row of sheet with column set.
func Column(t testing.TB, s store.Store, sheet, column string) map[string]string {
	t.Helper()
	rows, err := s.Rows(context.Background(), sheet, store.NonBlank(column), 0)
	require.NoError(t, err)
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Get(column)
	}
	return out
}
