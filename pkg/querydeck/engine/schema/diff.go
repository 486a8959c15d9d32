package schema

import (
	"sort"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
)

// Diff computes the structural difference from prev to next.
//
// Tables are matched by name, so a renamed table is one removal plus one addition.
// Within a common table, columns, indexes and foreign keys are matched by name; a member
// whose compared fields differ is reported as modified together with the names of those fields.
// A table appears in ModifiedTables only when at least one category is non-empty.
func Diff(prev, next model.SchemaSnapshot) model.SchemaDiff {
	d := model.SchemaDiff{
		AddedTables:    []string{},
		RemovedTables:  []string{},
		ModifiedTables: map[string]model.TableDiff{},
	}
	for _, name := range next.TableNames() {
		if _, ok := prev.Tables[name]; !ok {
			d.AddedTables = append(d.AddedTables, name)
		}
	}
	for _, name := range prev.TableNames() {
		after, ok := next.Tables[name]
		if !ok {
			d.RemovedTables = append(d.RemovedTables, name)
			continue
		}
		if td := diffTable(prev.Tables[name], after); !td.IsEmpty() {
			d.ModifiedTables[name] = td
		}
	}
	return d
}

func diffTable(before, after model.TableSchema) model.TableDiff {
	var td model.TableDiff

	td.AddedColumns, td.RemovedColumns, td.ModifiedColumns = diffMembers(before.Columns, after.Columns,
		func(c model.Column) string { return c.Name }, columnChanges,
		func(name string, b, a model.Column, changed []string) model.ColumnChange {
			return model.ColumnChange{Name: name, Before: b, After: a, Changed: changed}
		})

	td.AddedIndexes, td.RemovedIndexes, td.ModifiedIndexes = diffMembers(before.Indexes, after.Indexes,
		func(i model.Index) string { return i.Name }, indexChanges,
		func(name string, b, a model.Index, changed []string) model.IndexChange {
			return model.IndexChange{Name: name, Before: b, After: a, Changed: changed}
		})

	td.AddedForeignKeys, td.RemovedForeignKeys, td.ModifiedForeignKeys = diffMembers(before.ForeignKeys, after.ForeignKeys,
		func(f model.ForeignKey) string { return f.Name + "\x00" + f.Column }, foreignKeyChanges,
		func(name string, b, a model.ForeignKey, changed []string) model.ForeignKeyChange {
			return model.ForeignKeyChange{Name: b.Name, Before: b, After: a, Changed: changed}
		})

	if before.Comment != after.Comment {
		td.CommentChanged = &model.CommentChange{Before: before.Comment, After: after.Comment}
	}
	return td
}

// diffMembers matches before and after by key. Added members are in after order,
// removed and modified members in before order. Duplicate keys keep the first occurrence.
func diffMembers[T any, C any](
	before, after []T,
	key func(T) string,
	changes func(b, a T) []string,
	change func(name string, b, a T, changed []string) C,
) (added, removed []T, modified []C) {
	old := index(before, key)
	cur := index(after, key)

	seen := map[string]bool{}
	for _, m := range after {
		k := key(m)
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := old[k]; !ok {
			added = append(added, m)
		}
	}
	seen = map[string]bool{}
	for _, m := range before {
		k := key(m)
		if seen[k] {
			continue
		}
		seen[k] = true
		a, ok := cur[k]
		if !ok {
			removed = append(removed, m)
			continue
		}
		if c := changes(m, a); len(c) > 0 {
			modified = append(modified, change(k, m, a, c))
		}
	}
	return added, removed, modified
}

func index[T any](members []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(members))
	for _, v := range members {
		k := key(v)
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m
}

func columnChanges(b, a model.Column) []string {
	var changed []string
	if b.DataType != a.DataType {
		changed = append(changed, "dataType")
	}
	if b.Nullable != a.Nullable {
		changed = append(changed, "nullable")
	}
	if !sameDefault(b.Default, a.Default) {
		changed = append(changed, "default")
	}
	if b.Comment != a.Comment {
		changed = append(changed, "comment")
	}
	if b.Extra != a.Extra {
		changed = append(changed, "extra")
	}
	if b.Key != a.Key {
		changed = append(changed, "key")
	}
	return changed
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func indexChanges(b, a model.Index) []string {
	var changed []string
	if !equalStrings(b.Columns, a.Columns) {
		changed = append(changed, "columns")
	}
	if b.Unique != a.Unique {
		changed = append(changed, "unique")
	}
	if b.Type != a.Type {
		changed = append(changed, "type")
	}
	return changed
}

func foreignKeyChanges(b, a model.ForeignKey) []string {
	var changed []string
	if b.ReferenceTable != a.ReferenceTable {
		changed = append(changed, "referenceTable")
	}
	if b.ReferenceColumn != a.ReferenceColumn {
		changed = append(changed, "referenceColumn")
	}
	return changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChangedTables returns every table name touched by d, sorted.
func ChangedTables(d model.SchemaDiff) []string {
	names := make([]string, 0, len(d.AddedTables)+len(d.RemovedTables)+len(d.ModifiedTables))
	names = append(names, d.AddedTables...)
	names = append(names, d.RemovedTables...)
	for name := range d.ModifiedTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
