package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// QuoteIdentifier quotes a table or column name with backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func whereClause(pk map[string]interface{}) (string, []interface{}, error) {
	if len(pk) == 0 {
		return "", nil, exception.NewValidationError(moduleName, "primary key values are required")
	}
	keys := sortedKeys(pk)
	parts := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		parts[i] = QuoteIdentifier(k) + " = ?"
		args[i] = pk[k]
	}
	return strings.Join(parts, " AND "), args, nil
}

func checkTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return exception.NewValidationError(moduleName, "table name is required")
	}
	return nil
}

// UpdateRow updates the row identified by pk and returns the number of affected rows.
func UpdateRow(ctx context.Context, p *Pool, table string, pk, values map[string]interface{}) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, exception.NewValidationError(moduleName, "no column values to update")
	}
	where, whereArgs, err := whereClause(pk)
	if err != nil {
		return 0, err
	}
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+len(whereArgs))
	for i, c := range cols {
		sets[i] = QuoteIdentifier(c) + " = ?"
		args = append(args, values[c])
	}
	args = append(args, whereArgs...)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s LIMIT 1", QuoteIdentifier(table), strings.Join(sets, ", "), where)
	res, err := Exec(ctx, p, query, args, 0)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// InsertRow inserts one row and returns the generated id, if any.
func InsertRow(ctx context.Context, p *Pool, table string, values map[string]interface{}) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, exception.NewValidationError(moduleName, "no column values to insert")
	}
	cols := sortedKeys(values)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
		marks[i] = "?"
		args[i] = values[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	res, err := Exec(ctx, p, query, args, 0)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// DeleteRow deletes the row identified by pk and returns the number of affected rows.
func DeleteRow(ctx context.Context, p *Pool, table string, pk map[string]interface{}) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	where, args, err := whereClause(pk)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s LIMIT 1", QuoteIdentifier(table), where)
	res, err := Exec(ctx, p, query, args, 0)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
