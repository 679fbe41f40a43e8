package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func backends(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	return map[string]func() Store{
		"xlsx": func() Store {
			s, err := Open("xlsx", filepath.Join(dir, "recon.xlsx"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := Open("sqlite", filepath.Join(dir, "recon.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			added, err := s.Append(ctx, SheetSubdomains, []string{"a.example.com", "b.example.com", " ", "a.example.com"})
			require.NoError(t, err)
			assert.Equal(t, 2, added)

			added, err = s.Append(ctx, SheetSubdomains, []string{"b.example.com", "c.example.com"})
			require.NoError(t, err)
			assert.Equal(t, 1, added)

			rows, err := s.Rows(ctx, SheetSubdomains, All(), 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.example.com", "b.example.com", "c.example.com"}, Names(rows))

			n, err := s.Update(ctx, SheetSubdomains, "resolved", map[string]string{
				"a.example.com":       "done",
				"missing.example.com": "done",
			})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			pending, err := s.Rows(ctx, SheetSubdomains, Ne("resolved", "done"), 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b.example.com", "c.example.com"}, Names(pending))

			done, err := s.Rows(ctx, SheetSubdomains, Eq("resolved", "done"), 0)
			require.NoError(t, err)
			require.Len(t, done, 1)
			assert.Equal(t, "done", done[0].Get("resolved"))
			assert.Equal(t, "a.example.com", done[0].Get(NameColumn))

			_, err = s.Update(ctx, SheetSubdomains, "ip", map[string]string{"c.example.com": "1.2.3.4"})
			require.NoError(t, err)
			withIP, err := s.Rows(ctx, SheetSubdomains, NonBlank("ip"), 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"c.example.com"}, Names(withIP))

			blank, err := s.Rows(ctx, SheetSubdomains, Eq("ip", ""), 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.example.com", "b.example.com"}, Names(blank))

			limited, err := s.Rows(ctx, SheetSubdomains, All(), 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestStorePersists(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			_, err := s.Append(ctx, SheetTargets, []string{"8.8.8.8", "1.1.1.1"})
			require.NoError(t, err)
			_, err = s.Update(ctx, SheetTargets, "scanned", map[string]string{"8.8.8.8": "done"})
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s = open()
			defer s.Close()
			rows, err := s.Rows(ctx, SheetTargets, All(), 0)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "8.8.8.8", rows[0].Name)
			assert.Equal(t, "done", rows[0].Get("scanned"))
			assert.Equal(t, "", rows[1].Get("scanned"))
		})
	}
}

func TestWorkbookKeepsHandEditedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "edited.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetHosts))
	require.NoError(t, f.SetSheetRow(SheetHosts, "A1", &[]any{NameColumn, "note"}))
	require.NoError(t, f.SetSheetRow(SheetHosts, "A2", &[]any{"1.1.1.1", "first"}))
	// row 3 left blank
	require.NoError(t, f.SetSheetRow(SheetHosts, "A4", &[]any{"1.1.1.1", "repeat"}))
	require.NoError(t, f.SetSheetRow(SheetHosts, "A5", &[]any{"2.2.2.2", "second"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	s, err := Open("xlsx", path)
	require.NoError(t, err)

	added, err := s.Append(ctx, SheetHosts, []string{"3.3.3.3"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	n, err := s.Update(ctx, SheetHosts, "ip", map[string]string{"2.2.2.2": "ok", "3.3.3.3": "new"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.Close())

	s, err = Open("xlsx", path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Rows(ctx, SheetHosts, All(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, Names(rows))
	assert.Equal(t, "first", rows[0].Get("note"))
	assert.Equal(t, "", rows[0].Get("ip"))
	assert.Equal(t, "second", rows[1].Get("note"))
	assert.Equal(t, "ok", rows[1].Get("ip"))
	assert.Equal(t, "new", rows[2].Get("ip"))

	raw, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer raw.Close()
	repeat, err := raw.GetCellValue(SheetHosts, "B4")
	require.NoError(t, err)
	assert.Equal(t, "repeat", repeat)
	appended, err := raw.GetCellValue(SheetHosts, "A6")
	require.NoError(t, err)
	assert.Equal(t, "3.3.3.3", appended)
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			_, err := s.Rows(ctx, "nope", All(), 0)
			assert.True(t, errors.Is(err, ErrUnknownSheet))
			_, err = s.Append(ctx, "nope", []string{"x"})
			assert.True(t, errors.Is(err, ErrUnknownSheet))
			_, err = s.Update(ctx, SheetHosts, NameColumn, map[string]string{"x": "y"})
			assert.True(t, errors.Is(err, ErrReadOnlyColumn))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("csv", filepath.Join(t.TempDir(), "x.csv"))
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestFilterMatch(t *testing.T) {
	r := Row{Name: "h", Fields: map[string]string{"kind": "cloud"}}

	assert.True(t, All().Match(r))
	assert.True(t, Eq("kind", "cloud").Match(r))
	assert.False(t, Ne("kind", "cloud").Match(r))
	assert.True(t, Ne("status", "done").Match(r))
	assert.True(t, NonBlank("kind").Match(r))
	assert.False(t, NonBlank("status").Match(r))
	assert.True(t, Eq(NameColumn, "h").Match(r))
}
