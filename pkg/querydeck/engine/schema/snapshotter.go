// Package schema captures structural snapshots of a MariaDB database, diffs them and
// keeps a versioned cache of them per (owner, connection).
package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "schema"

// DefaultPageSize is the number of tables read per page when none is given.
const DefaultPageSize = 100

const (
	tablesQuery = "SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT FROM information_schema.TABLES " +
		"WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME LIMIT ? OFFSET ?"
	columnsQuery = "SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_COMMENT, EXTRA, COLUMN_KEY " +
		"FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
	primaryKeyQuery = "SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY' ORDER BY ORDINAL_POSITION"
	foreignKeysQuery = "SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME " +
		"FROM information_schema.KEY_COLUMN_USAGE WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? " +
		"AND REFERENCED_TABLE_NAME IS NOT NULL ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION"
	indexesQuery = "SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, INDEX_TYPE, SEQ_IN_INDEX FROM information_schema.STATISTICS " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY INDEX_NAME, SEQ_IN_INDEX"
)

// Page is one page of a capture.
type Page struct {
	Snapshot   model.SchemaSnapshot
	Offset     int
	NextOffset int
	HasMore    bool
}

// Snapshotter reads table structure from information_schema through a pool.
type Snapshotter struct {
	pool    *pool.Pool
	timeout time.Duration
}

// NewSnapshotter creates a Snapshotter over p. timeout <= 0 uses the pool's query timeout.
func NewSnapshotter(p *pool.Pool, timeout time.Duration) *Snapshotter {
	return &Snapshotter{pool: p, timeout: timeout}
}

// CapturePage captures up to pageSize tables starting at offset, in table-name order.
func (s *Snapshotter) CapturePage(ctx context.Context, offset, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if offset < 0 {
		return nil, exception.NewValidationError(moduleName, "offset must not be negative, got %d", offset)
	}

	// One extra row tells whether another page follows.
	res, err := pool.ExecuteQuery(ctx, s.pool, tablesQuery, []interface{}{pageSize + 1, offset}, s.timeout)
	if err != nil {
		return nil, err
	}
	rows := res.Rows
	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}

	snap := model.NewSchemaSnapshot()
	for _, r := range rows {
		t := model.TableSchema{
			Name:    text(r["TABLE_NAME"]),
			Type:    text(r["TABLE_TYPE"]),
			Comment: text(r["TABLE_COMMENT"]),
		}
		if err := s.describe(ctx, &t); err != nil {
			return nil, err
		}
		snap.Tables[t.Name] = t
	}
	return &Page{Snapshot: snap, Offset: offset, NextOffset: offset + len(rows), HasMore: hasMore}, nil
}

// CaptureAll walks every page and merges them into one snapshot.
func (s *Snapshotter) CaptureAll(ctx context.Context, pageSize int) (model.SchemaSnapshot, error) {
	all := model.NewSchemaSnapshot()
	offset := 0
	for {
		page, err := s.CapturePage(ctx, offset, pageSize)
		if err != nil {
			return model.SchemaSnapshot{}, err
		}
		for name, t := range page.Snapshot.Tables {
			all.Tables[name] = t
		}
		if !page.HasMore {
			break
		}
		offset = page.NextOffset
	}
	logger.Debugf("schema: captured %d tables from %s", len(all.Tables), s.pool.Key())
	return all, nil
}

func (s *Snapshotter) describe(ctx context.Context, t *model.TableSchema) error {
	args := []interface{}{t.Name}

	cols, err := pool.ExecuteQuery(ctx, s.pool, columnsQuery, args, s.timeout)
	if err != nil {
		return wrapTable(t.Name, "columns", err)
	}
	t.Columns = make([]model.Column, 0, len(cols.Rows))
	for _, r := range cols.Rows {
		c := model.Column{
			Name:     text(r["COLUMN_NAME"]),
			DataType: text(r["COLUMN_TYPE"]),
			Nullable: text(r["IS_NULLABLE"]) == "YES",
			Comment:  text(r["COLUMN_COMMENT"]),
			Extra:    text(r["EXTRA"]),
			Key:      text(r["COLUMN_KEY"]),
		}
		if d := r["COLUMN_DEFAULT"]; d != nil {
			v := text(d)
			c.Default = &v
		}
		t.Columns = append(t.Columns, c)
	}

	pk, err := pool.ExecuteQuery(ctx, s.pool, primaryKeyQuery, args, s.timeout)
	if err != nil {
		return wrapTable(t.Name, "primary key", err)
	}
	t.PrimaryKey = make([]string, 0, len(pk.Rows))
	for _, r := range pk.Rows {
		t.PrimaryKey = append(t.PrimaryKey, text(r["COLUMN_NAME"]))
	}

	fks, err := pool.ExecuteQuery(ctx, s.pool, foreignKeysQuery, args, s.timeout)
	if err != nil {
		return wrapTable(t.Name, "foreign keys", err)
	}
	t.ForeignKeys = make([]model.ForeignKey, 0, len(fks.Rows))
	for _, r := range fks.Rows {
		t.ForeignKeys = append(t.ForeignKeys, model.ForeignKey{
			Name:            text(r["CONSTRAINT_NAME"]),
			Column:          text(r["COLUMN_NAME"]),
			ReferenceTable:  text(r["REFERENCED_TABLE_NAME"]),
			ReferenceColumn: text(r["REFERENCED_COLUMN_NAME"]),
		})
	}

	idx, err := pool.ExecuteQuery(ctx, s.pool, indexesQuery, args, s.timeout)
	if err != nil {
		return wrapTable(t.Name, "indexes", err)
	}
	t.Indexes = groupIndexes(idx.Rows)
	return nil
}

type indexColumn struct {
	name string
	seq  int
}

// groupIndexes collapses (index, column) rows into one entry per index with columns in SEQ_IN_INDEX order.
// Indexes keep the order in which they first appear.
func groupIndexes(rows []model.Row) []model.Index {
	order := []string{}
	byName := map[string]*model.Index{}
	cols := map[string][]indexColumn{}
	for _, r := range rows {
		name := text(r["INDEX_NAME"])
		if _, ok := byName[name]; !ok {
			order = append(order, name)
			byName[name] = &model.Index{
				Name:   name,
				Unique: number(r["NON_UNIQUE"]) == 0,
				Type:   text(r["INDEX_TYPE"]),
			}
		}
		cols[name] = append(cols[name], indexColumn{name: text(r["COLUMN_NAME"]), seq: number(r["SEQ_IN_INDEX"])})
	}

	out := make([]model.Index, 0, len(order))
	for _, name := range order {
		ic := cols[name]
		sort.SliceStable(ic, func(i, j int) bool { return ic[i].seq < ic[j].seq })
		ix := byName[name]
		ix.Columns = make([]string, len(ic))
		for i, c := range ic {
			ix.Columns[i] = c.name
		}
		out = append(out, *ix)
	}
	return out
}

func wrapTable(table, what string, err error) error {
	if exception.KindOf(err) != "" && !exception.IsKind(err, exception.KindExecution) {
		return err
	}
	return exception.NewExecutionError(moduleName, fmt.Sprintf("failed to read %s of table %s", what, table), err)
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func number(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case int32:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	default:
		n, _ := strconv.Atoi(text(v))
		return n
	}
}
