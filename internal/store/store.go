// Package store keeps the pipeline's working records: named rows grouped into
// sheets, each row carrying free-form string columns.
//
// Two backends are provided. The xlsx backend keeps everything in a single
// workbook that can be opened by hand between runs; the sqlite backend is
// meant for larger runs where rewriting a workbook on every change is slow.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sheet names used by the pipeline
const (
	SheetSubdomains   = "subdomains"
	SheetHosts        = "hosts"
	SheetTargets      = "targets"
	SheetPorts        = "ports"
	SheetServices     = "services"
	SheetFingerprints = "fingerprints"
)

// Sheets lists every sheet in workbook order.
var Sheets = []string{
	SheetSubdomains,
	SheetHosts,
	SheetTargets,
	SheetPorts,
	SheetServices,
	SheetFingerprints,
}

// NameColumn is the key column present on every sheet.
const NameColumn = "name"

// Columns written by the pipeline stages
const (
	ColIP            = "ip"
	ColAlias         = "alias"
	ColResolved      = "resolved"
	ColKind          = "kind"
	ColProvider      = "provider"
	ColClassified    = "classified"
	ColSource        = "source"
	ColScanned       = "scanned"
	ColFingerprinted = "fingerprinted"
	ColStatus        = "status"
	ColFingerprint   = "fingerprint"
)

// Column values
const (
	Done        = "done"
	KindCloud   = "cloud"
	KindDirect  = "direct"
	SourceCloud = "cloud"
	SourceRange = "range"
)

var (
	ErrUnknownSheet   = errors.New("unknown sheet")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrReadOnlyColumn = errors.New("column cannot be updated")
)

// Row is one record. Missing columns read as "".
type Row struct {
	Name   string
	Fields map[string]string
}

// Get returns the value of column, or "" when unset.
func (r Row) Get(column string) string {
	if column == NameColumn {
		return r.Name
	}
	return r.Fields[column]
}

// Op is a filter operator.
type Op int

const (
	OpAll Op = iota
	OpEq
	OpNe
	OpNonBlank
)

// Filter selects rows by one column.
type Filter struct {
	Op     Op
	Column string
	Value  string
}

func All() Filter { return Filter{Op: OpAll} }

// Eq matches rows whose column equals value.
func Eq(column, value string) Filter { return Filter{Op: OpEq, Column: column, Value: value} }

// Ne matches rows whose column differs from value, including unset columns.
func Ne(column, value string) Filter { return Filter{Op: OpNe, Column: column, Value: value} }

func NonBlank(column string) Filter { return Filter{Op: OpNonBlank, Column: column} }

// Match reports whether r passes the filter.
func (f Filter) Match(r Row) bool {
	switch f.Op {
	case OpEq:
		return r.Get(f.Column) == f.Value
	case OpNe:
		return r.Get(f.Column) != f.Value
	case OpNonBlank:
		return r.Get(f.Column) != ""
	default:
		return true
	}
}

// Store is the record store used by every pipeline stage.
type Store interface {
	// Rows returns rows of sheet matching f in insertion order.
	// limit <= 0 returns every match.
	Rows(ctx context.Context, sheet string, f Filter, limit int) ([]Row, error)

	// Append adds rows for names not already present and returns how many
	// were added. Blank names are ignored.
	Append(ctx context.Context, sheet string, names []string) (int, error)

	// Update sets column on the named rows. Names without a row are ignored.
	Update(ctx context.Context, sheet, column string, values map[string]string) (int, error)

	Close() error
}

// Open opens or creates a store at path.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "xlsx":
		return OpenWorkbook(path)
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func checkSheet(sheet string) error {
	for _, s := range Sheets {
		if s == sheet {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownSheet, sheet)
}

func checkColumn(column string) error {
	if column == "" || column == NameColumn {
		return fmt.Errorf("%w: %q", ErrReadOnlyColumn, column)
	}
	return nil
}

// Names returns the names of rows.
func Names(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out
}
