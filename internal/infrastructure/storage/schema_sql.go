package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"world-indexer.backend/internal/domain/entities"
)

// Column is one flattened schema leaf.
type Column struct {
	Name    string
	SQLType string
}

// ColumnValue pairs a flattened column with the value to write. Columns for
// unset leaves are omitted so partial updates leave stored data untouched.
type ColumnValue struct {
	Name  string
	Value any
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// FlattenColumns walks the schema and returns one column per leaf, named by
// its dotted path. Enums contribute a tag column plus one subtree per
// non-empty variant. Arrays and byte arrays collapse to a single TEXT column.
func FlattenColumns(prefix string, ty entities.Ty) []Column {
	switch ty.Kind {
	case entities.KindPrimitive:
		return []Column{{Name: prefix, SQLType: ty.Primitive.Type.SQLType()}}
	case entities.KindStruct:
		var cols []Column
		for _, c := range ty.Struct.Children {
			cols = append(cols, FlattenColumns(joinPath(prefix, c.Name), c.Ty)...)
		}
		return cols
	case entities.KindEnum:
		cols := []Column{{Name: prefix, SQLType: "TEXT"}}
		for _, opt := range ty.Enum.Options {
			if isUnit(opt.Ty) {
				continue
			}
			cols = append(cols, FlattenColumns(joinPath(prefix, opt.Name), opt.Ty)...)
		}
		return cols
	case entities.KindTuple:
		var cols []Column
		for i, c := range ty.Tuple {
			cols = append(cols, FlattenColumns(joinPath(prefix, fmt.Sprint(i)), c)...)
		}
		return cols
	case entities.KindArray, entities.KindByteArray:
		return []Column{{Name: prefix, SQLType: "TEXT"}}
	}
	return nil
}

// FlattenValues walks a populated schema and returns the column writes.
func FlattenValues(prefix string, ty entities.Ty) ([]ColumnValue, error) {
	switch ty.Kind {
	case entities.KindPrimitive:
		if ty.Primitive.Value == nil {
			return nil, nil
		}
		v, err := ty.Primitive.SQLValue()
		if err != nil {
			return nil, err
		}
		return []ColumnValue{{Name: prefix, Value: v}}, nil
	case entities.KindStruct:
		var values []ColumnValue
		for _, c := range ty.Struct.Children {
			vs, err := FlattenValues(joinPath(prefix, c.Name), c.Ty)
			if err != nil {
				return nil, err
			}
			values = append(values, vs...)
		}
		return values, nil
	case entities.KindEnum:
		if ty.Enum.Option == nil {
			return nil, nil
		}
		opt := ty.Enum.Options[*ty.Enum.Option]
		values := []ColumnValue{{Name: prefix, Value: opt.Name}}
		if !isUnit(opt.Ty) {
			vs, err := FlattenValues(joinPath(prefix, opt.Name), opt.Ty)
			if err != nil {
				return nil, err
			}
			values = append(values, vs...)
		}
		return values, nil
	case entities.KindTuple:
		var values []ColumnValue
		for i, c := range ty.Tuple {
			vs, err := FlattenValues(joinPath(prefix, fmt.Sprint(i)), c)
			if err != nil {
				return nil, err
			}
			values = append(values, vs...)
		}
		return values, nil
	case entities.KindArray:
		if len(ty.Array) == 0 {
			return nil, nil
		}
		raw, err := json.Marshal(ty.JSONValue())
		if err != nil {
			return nil, err
		}
		return []ColumnValue{{Name: prefix, Value: string(raw)}}, nil
	case entities.KindByteArray:
		if ty.ByteArray == nil {
			return nil, nil
		}
		return []ColumnValue{{Name: prefix, Value: *ty.ByteArray}}, nil
	}
	return nil, nil
}

func isUnit(ty entities.Ty) bool {
	return ty.Kind == entities.KindTuple && len(ty.Tuple) == 0
}

func quoteIdent(name string) string {
	return "[" + name + "]"
}

// CreateModelTable builds the DDL for a model's table. Row identity is the
// entity id; the internal columns carry provenance shared by every model.
func CreateModelTable(tag string, schema entities.Ty) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(tag))
	b.WriteString("internal_id TEXT PRIMARY KEY, ")
	b.WriteString("internal_entity_id TEXT, ")
	b.WriteString("internal_event_message_id TEXT, ")
	b.WriteString("internal_event_id TEXT NOT NULL, ")
	b.WriteString("internal_executed_at TEXT NOT NULL, ")
	b.WriteString("internal_updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")
	for _, col := range FlattenColumns("", schema) {
		fmt.Fprintf(&b, ", %s %s", quoteIdent(col.Name), col.SQLType)
	}
	b.WriteString(");")
	return b.String()
}

// AlterModelTable builds ADD COLUMN statements for the leaves the upgraded
// schema adds over the old one. Columns are only ever added; leaves the old
// schema already flattened to (an enum's tag column in particular) are
// skipped.
func AlterModelTable(tag string, schema, old entities.Ty) []string {
	existing := map[string]bool{}
	for _, col := range FlattenColumns("", old) {
		existing[col.Name] = true
	}
	var stmts []string
	for _, col := range FlattenColumns("", schema) {
		if existing[col.Name] {
			continue
		}
		stmts = append(stmts, fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN %s %s;", quoteIdent(tag), quoteIdent(col.Name), col.SQLType))
	}
	return stmts
}

// UpsertModelRow builds the insert-or-update statement for one record write.
func UpsertModelRow(tag, internalID, entityID, eventMessageID, eventID, executedAt string, values []ColumnValue) (string, []any) {
	cols := []string{"internal_id", "internal_entity_id", "internal_event_message_id", "internal_event_id", "internal_executed_at"}
	args := []any{internalID, nullable(entityID), nullable(eventMessageID), eventID, executedAt}
	for _, v := range values {
		cols = append(cols, v.Name)
		args = append(args, v.Value)
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
		if c != "internal_id" {
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", quoteIdent(c), quoteIdent(c)))
		}
	}
	updates = append(updates, "internal_updated_at=CURRENT_TIMESTAMP")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(internal_id) DO UPDATE SET %s;",
		quoteIdent(tag), strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
	return stmt, args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
