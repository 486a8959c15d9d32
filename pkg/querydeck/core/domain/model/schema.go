package model

import (
	"sort"
	"time"
)

// Column is one column of a table, in ordinal order within its table.
type Column struct {
	Name     string  `json:"name"`
	DataType string  `json:"dataType"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Comment  string  `json:"comment,omitempty"`
	Extra    string  `json:"extra,omitempty"`
	Key      string  `json:"key,omitempty"`
}

// ForeignKey is a single-column reference from a table to another table.
type ForeignKey struct {
	Name            string `json:"name"`
	Column          string `json:"column"`
	ReferenceTable  string `json:"referenceTable"`
	ReferenceColumn string `json:"referenceColumn"`
}

// Index is a named index; Columns follow the sequence-in-index order.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Type    string   `json:"type,omitempty"`
}

// TableSchema is the structure of one table or view.
type TableSchema struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Comment     string       `json:"comment,omitempty"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primaryKey"`
	ForeignKeys []ForeignKey `json:"foreignKeys"`
	Indexes     []Index      `json:"indexes"`
}

// SchemaSnapshot maps table name to its structure.
type SchemaSnapshot struct {
	Tables map[string]TableSchema `json:"tables"`
}

// NewSchemaSnapshot returns an empty snapshot.
func NewSchemaSnapshot() SchemaSnapshot {
	return SchemaSnapshot{Tables: map[string]TableSchema{}}
}

// TableNames returns the table names in sorted order.
func (s SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SnapshotVersion is one immutable entry of a connection's schema history.
type SnapshotVersion struct {
	VersionID    string
	OwnerID      string
	ConnectionID string
	Snapshot     SchemaSnapshot
	TableCount   int
	CreatedAt    time.Time
}

// ColumnChange describes a column present in both snapshots with differing fields.
type ColumnChange struct {
	Name    string   `json:"name"`
	Before  Column   `json:"before"`
	After   Column   `json:"after"`
	Changed []string `json:"changed"`
}

// IndexChange describes an index present in both snapshots with differing fields.
type IndexChange struct {
	Name    string   `json:"name"`
	Before  Index    `json:"before"`
	After   Index    `json:"after"`
	Changed []string `json:"changed"`
}

// ForeignKeyChange describes a foreign key present in both snapshots with differing fields.
type ForeignKeyChange struct {
	Name    string     `json:"name"`
	Before  ForeignKey `json:"before"`
	After   ForeignKey `json:"after"`
	Changed []string   `json:"changed"`
}

// CommentChange records a table comment edit.
type CommentChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// TableDiff is the set of changes within one table present in both snapshots.
type TableDiff struct {
	AddedColumns        []Column           `json:"addedColumns,omitempty"`
	RemovedColumns      []Column           `json:"removedColumns,omitempty"`
	ModifiedColumns     []ColumnChange     `json:"modifiedColumns,omitempty"`
	AddedIndexes        []Index            `json:"addedIndexes,omitempty"`
	RemovedIndexes      []Index            `json:"removedIndexes,omitempty"`
	ModifiedIndexes     []IndexChange      `json:"modifiedIndexes,omitempty"`
	AddedForeignKeys    []ForeignKey       `json:"addedForeignKeys,omitempty"`
	RemovedForeignKeys  []ForeignKey       `json:"removedForeignKeys,omitempty"`
	ModifiedForeignKeys []ForeignKeyChange `json:"modifiedForeignKeys,omitempty"`
	CommentChanged      *CommentChange     `json:"commentChanged,omitempty"`
}

// IsEmpty reports whether no difference category has entries.
func (d TableDiff) IsEmpty() bool {
	return len(d.AddedColumns) == 0 && len(d.RemovedColumns) == 0 && len(d.ModifiedColumns) == 0 &&
		len(d.AddedIndexes) == 0 && len(d.RemovedIndexes) == 0 && len(d.ModifiedIndexes) == 0 &&
		len(d.AddedForeignKeys) == 0 && len(d.RemovedForeignKeys) == 0 && len(d.ModifiedForeignKeys) == 0 &&
		d.CommentChanged == nil
}

// SchemaDiff is the structural difference between two snapshots.
type SchemaDiff struct {
	AddedTables    []string             `json:"addedTables"`
	RemovedTables  []string             `json:"removedTables"`
	ModifiedTables map[string]TableDiff `json:"modifiedTables"`
}

// IsEmpty reports whether the two snapshots were structurally identical.
func (d SchemaDiff) IsEmpty() bool {
	return len(d.AddedTables) == 0 && len(d.RemovedTables) == 0 && len(d.ModifiedTables) == 0
}

// DiffRecord is a stored diff between two consecutive versions.
type DiffRecord struct {
	OwnerID      string
	ConnectionID string
	OldVersionID string
	NewVersionID string
	Diff         SchemaDiff
	CreatedAt    time.Time
}
