package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
)

func strp(s string) *string { return &s }

func ordersTable() model.TableSchema {
	return model.TableSchema{
		Name: "orders", Type: "BASE TABLE", Comment: "customer orders",
		Columns: []model.Column{
			{Name: "id", DataType: "int(11)", Key: "PRI", Extra: "auto_increment"},
			{Name: "customer_id", DataType: "int(11)", Key: "MUL"},
			{Name: "status", DataType: "varchar(16)", Nullable: true, Default: strp("new")},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []model.ForeignKey{{Name: "fk_customer", Column: "customer_id", ReferenceTable: "customers", ReferenceColumn: "id"}},
		Indexes: []model.Index{
			{Name: "PRIMARY", Columns: []string{"id"}, Unique: true, Type: "BTREE"},
			{Name: "idx_customer", Columns: []string{"customer_id"}, Type: "BTREE"},
		},
	}
}

func snapshotOf(tables ...model.TableSchema) model.SchemaSnapshot {
	s := model.NewSchemaSnapshot()
	for _, t := range tables {
		s.Tables[t.Name] = t
	}
	return s
}

func TestDiff_IdenticalIsEmpty(t *testing.T) {
	a := snapshotOf(ordersTable(), model.TableSchema{Name: "customers", Type: "BASE TABLE"})
	d := schema.Diff(a, a)

	assert.True(t, d.IsEmpty())
	assert.Empty(t, d.AddedTables)
	assert.Empty(t, d.RemovedTables)
	assert.Empty(t, d.ModifiedTables)
}

func TestDiff_Deterministic(t *testing.T) {
	a := snapshotOf(ordersTable(), model.TableSchema{Name: "b"}, model.TableSchema{Name: "c"})
	changed := ordersTable()
	changed.Columns[2].DataType = "varchar(32)"
	b := snapshotOf(changed, model.TableSchema{Name: "d"}, model.TableSchema{Name: "e"}, model.TableSchema{Name: "a"})

	first := schema.Diff(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, schema.Diff(a, b))
	}
	assert.Equal(t, []string{"a", "d", "e"}, first.AddedTables)
	assert.Equal(t, []string{"b", "c"}, first.RemovedTables)
}

func TestDiff_RenameIsRemovalPlusAddition(t *testing.T) {
	renamed := ordersTable()
	renamed.Name = "purchase_orders"
	d := schema.Diff(snapshotOf(ordersTable()), snapshotOf(renamed))

	assert.Equal(t, []string{"purchase_orders"}, d.AddedTables)
	assert.Equal(t, []string{"orders"}, d.RemovedTables)
	assert.Empty(t, d.ModifiedTables)
}

func TestDiff_ColumnChanges(t *testing.T) {
	after := ordersTable()
	after.Columns = []model.Column{
		after.Columns[0],
		{Name: "customer_id", DataType: "bigint(20)", Key: "MUL", Nullable: true},
		{Name: "status", DataType: "varchar(16)", Nullable: true},
		{Name: "total", DataType: "decimal(10,2)"},
	}
	d := schema.Diff(snapshotOf(ordersTable()), snapshotOf(after))

	require.Contains(t, d.ModifiedTables, "orders")
	td := d.ModifiedTables["orders"]
	require.Len(t, td.AddedColumns, 1)
	assert.Equal(t, "total", td.AddedColumns[0].Name)
	assert.Empty(t, td.RemovedColumns)
	require.Len(t, td.ModifiedColumns, 2)
	assert.Equal(t, "customer_id", td.ModifiedColumns[0].Name)
	assert.Equal(t, []string{"dataType", "nullable"}, td.ModifiedColumns[0].Changed)
	assert.Equal(t, "status", td.ModifiedColumns[1].Name)
	assert.Equal(t, []string{"default"}, td.ModifiedColumns[1].Changed)
	assert.Nil(t, td.CommentChanged)
}

func TestDiff_IndexForeignKeyAndComment(t *testing.T) {
	after := ordersTable()
	after.Comment = "orders v2"
	after.Indexes = []model.Index{
		after.Indexes[0],
		{Name: "idx_customer", Columns: []string{"customer_id", "status"}, Type: "BTREE"},
		{Name: "uq_status", Columns: []string{"status"}, Unique: true, Type: "HASH"},
	}
	after.ForeignKeys = []model.ForeignKey{{Name: "fk_customer", Column: "customer_id", ReferenceTable: "clients", ReferenceColumn: "id"}}

	td := schema.Diff(snapshotOf(ordersTable()), snapshotOf(after)).ModifiedTables["orders"]

	require.Len(t, td.ModifiedIndexes, 1)
	assert.Equal(t, []string{"columns"}, td.ModifiedIndexes[0].Changed)
	require.Len(t, td.AddedIndexes, 1)
	assert.Equal(t, "uq_status", td.AddedIndexes[0].Name)
	require.Len(t, td.ModifiedForeignKeys, 1)
	assert.Equal(t, "fk_customer", td.ModifiedForeignKeys[0].Name)
	assert.Equal(t, []string{"referenceTable"}, td.ModifiedForeignKeys[0].Changed)
	require.NotNil(t, td.CommentChanged)
	assert.Equal(t, "orders v2", td.CommentChanged.After)

	dropped := ordersTable()
	dropped.ForeignKeys = nil
	dropped.Indexes = dropped.Indexes[:1]
	td = schema.Diff(snapshotOf(ordersTable()), snapshotOf(dropped)).ModifiedTables["orders"]
	assert.Len(t, td.RemovedForeignKeys, 1)
	assert.Len(t, td.RemovedIndexes, 1)
}

func TestChangedTablesAndSearch(t *testing.T) {
	a := snapshotOf(ordersTable(), model.TableSchema{Name: "legacy"})
	changed := ordersTable()
	changed.Comment = "x"
	b := snapshotOf(changed, model.TableSchema{Name: "customers", Columns: []model.Column{{Name: "email"}}})

	assert.Equal(t, []string{"customers", "legacy", "orders"}, schema.ChangedTables(schema.Diff(a, b)))

	hits := schema.Search(b, "CUST")
	require.Len(t, hits, 2)
	assert.Equal(t, "customers", hits[0].Table)
	assert.Empty(t, hits[0].Columns)
	assert.Equal(t, "orders", hits[1].Table)
	assert.Equal(t, []string{"customer_id"}, hits[1].Columns)

	assert.Len(t, schema.Search(b, ""), 2)
	assert.Empty(t, schema.Search(b, "nothing"))
}
