package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/pkg/dojo"
	"world-indexer.backend/pkg/utils"
)

// MaxJoins caps the model tables hydrated in a single statement.
const MaxJoins = 64

const defaultPageLimit = 100

// QueryEngine serves cursor-paginated cross-model reads. Pages are resolved
// in two phases: a keyset query over the base table picks the window, then
// the rows are hydrated from the per-model tables.
type QueryEngine struct {
	db    *gorm.DB
	cache *ModelCache
}

func NewQueryEngine(db *gorm.DB, cache *ModelCache) *QueryEngine {
	return &QueryEngine{db: db, cache: cache}
}

// Entities pages over indexed entities.
func (q *QueryEngine) Entities(ctx context.Context, query entities.Query) (*entities.Page, error) {
	return q.page(ctx, "entities", query)
}

// EventMessages pages over off-chain and emitted event messages.
func (q *QueryEngine) EventMessages(ctx context.Context, query entities.Query) (*entities.Page, error) {
	return q.page(ctx, "event_messages", query)
}

// Models lists every registered model.
func (q *QueryEngine) Models(ctx context.Context) ([]*entities.Model, error) {
	return q.cache.All(), nil
}

// Cursors reads the per-contract indexing heads.
func (q *QueryEngine) Cursors(ctx context.Context) ([]entities.ContractCursor, error) {
	rows, err := q.db.WithContext(ctx).Raw(
		`SELECT id, contract_type, COALESCE(head, 0), COALESCE(last_block_timestamp, 0),
		        COALESCE(last_pending_block_tx, ''), COALESCE(last_pending_block_contract_tx, ''), txns_count
		 FROM contracts`).Rows()
	if err != nil {
		return nil, domainerrors.Storage(err)
	}
	defer rows.Close()

	var out []entities.ContractCursor
	for rows.Next() {
		var c entities.ContractCursor
		var ctype string
		if err := rows.Scan(&c.ContractAddress, &ctype, &c.Head, &c.LastBlockTimestamp,
			&c.LastPendingBlockTx, &c.LastPendingBlockContractTx, &c.TxnsCount); err != nil {
			return nil, domainerrors.Storage(err)
		}
		c.ContractType = entities.ContractType(ctype)
		out = append(out, c)
	}
	return out, rows.Err()
}

type pageRow struct {
	entity    entities.Entity
	modelIDs  []string
	orderVals []string
}

func (q *QueryEngine) page(ctx context.Context, table string, query entities.Query) (*entities.Page, error) {
	limit := query.Pagination.Limit
	if limit == 0 {
		limit = defaultPageLimit
	}
	backward := query.Pagination.Direction == entities.PageBackward

	orderBy, err := q.resolveOrder(query.Pagination.OrderBy, backward)
	if err != nil {
		return nil, err
	}

	cursorVals, err := decodeCursor(query.Pagination.Cursor, len(orderBy))
	if err != nil {
		return nil, err
	}

	rows, err := q.fetchWindow(ctx, table, query, orderBy, cursorVals, limit)
	if err != nil {
		return nil, err
	}

	hasNext := len(rows) > int(limit)
	if hasNext {
		rows = rows[:limit]
	}

	nextCursor := ""
	if hasNext && len(rows) > 0 {
		last := rows[len(rows)-1]
		nextCursor = encodeCursor(append(append([]string{}, last.orderVals...), last.entity.EventID))
	}

	if err := q.hydrate(ctx, query.Models, rows); err != nil {
		return nil, err
	}

	items := make([]entities.Entity, len(rows))
	for i, r := range rows {
		items[i] = r.entity
	}
	if backward {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return &entities.Page{Items: items, NextCursor: nextCursor}, nil
}

// orderColumn is one resolved sort key. asc already accounts for backward
// pagination: pages are always fetched in the flipped direction and
// reversed afterwards.
type orderColumn struct {
	tag    string
	member string
	asc    bool
}

func (c orderColumn) expr() string {
	return quoteIdent(c.tag) + "." + quoteIdent(c.member)
}

func (q *QueryEngine) resolveOrder(specs []entities.OrderBy, backward bool) ([]orderColumn, error) {
	out := make([]orderColumn, 0, len(specs))
	for _, s := range specs {
		tag, err := q.modelTag(s.Model)
		if err != nil {
			return nil, err
		}
		asc := s.Direction != entities.OrderDesc
		if backward {
			asc = !asc
		}
		out = append(out, orderColumn{tag: tag, member: s.Member, asc: asc})
	}
	return out, nil
}

// modelTag accepts either a "namespace-Name" tag or a selector hex.
func (q *QueryEngine) modelTag(ref string) (string, error) {
	if strings.HasPrefix(ref, "0x") {
		m, err := q.cache.Get(ref)
		if err != nil {
			return "", err
		}
		return m.Tag(), nil
	}
	if !dojo.IsValidTag(ref) {
		return "", fmt.Errorf("%w: bad model reference %q", domainerrors.ErrInvalidInput, ref)
	}
	return ref, nil
}

func (q *QueryEngine) fetchWindow(ctx context.Context, table string, query entities.Query, orderBy []orderColumn, cursorVals []string, limit uint32) ([]pageRow, error) {
	joins := map[string]bool{}
	for _, o := range orderBy {
		joins[o.tag] = true
	}

	where, args, err := q.buildClause(query.Clause, joins)
	if err != nil {
		return nil, err
	}
	if len(joins) > MaxJoins {
		return nil, domainerrors.BadRequest(fmt.Sprintf("query joins %d model tables, limit is %d", len(joins), MaxJoins))
	}

	var b strings.Builder
	b.WriteString("SELECT e.id, COALESCE(e.keys, ''), e.event_id, e.executed_at, e.updated_at, group_concat(DISTINCT em.model_id)")
	for i, o := range orderBy {
		fmt.Fprintf(&b, ", %s AS ord_%d", o.expr(), i)
	}
	fmt.Fprintf(&b, " FROM %s e JOIN entity_model em ON em.entity_id = e.id", table)
	for tag := range joins {
		fmt.Fprintf(&b, " JOIN %s ON %s.internal_id = e.id", quoteIdent(tag), quoteIdent(tag))
	}

	conditions := []string{}
	if where != "" {
		conditions = append(conditions, where)
	}
	if cursorVals != nil {
		cursorCond, cursorArgs := cursorComparison(orderBy, cursorVals, query.Pagination.Direction == entities.PageBackward)
		conditions = append(conditions, cursorCond)
		args = append(args, cursorArgs...)
	}
	if len(conditions) > 0 {
		b.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}

	b.WriteString(" GROUP BY e.id ORDER BY ")
	for _, o := range orderBy {
		dir := "DESC"
		if o.asc {
			dir = "ASC"
		}
		fmt.Fprintf(&b, "%s %s, ", o.expr(), dir)
	}
	tiebreak := "DESC"
	if query.Pagination.Direction == entities.PageBackward {
		tiebreak = "ASC"
	}
	fmt.Fprintf(&b, "e.event_id %s LIMIT %d", tiebreak, limit+1)

	rows, err := q.db.WithContext(ctx).Raw(b.String(), args...).Rows()
	if err != nil {
		return nil, domainerrors.Storage(err)
	}
	defer rows.Close()

	var out []pageRow
	for rows.Next() {
		r := pageRow{orderVals: make([]string, len(orderBy))}
		var modelIDs sql.NullString
		dest := []any{&r.entity.ID, &r.entity.Keys, &r.entity.EventID, &r.entity.ExecutedAt, &r.entity.UpdatedAt, &modelIDs}
		ordDest := make([]sql.NullString, len(orderBy))
		for i := range ordDest {
			dest = append(dest, &ordDest[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, domainerrors.Storage(err)
		}
		for i, v := range ordDest {
			r.orderVals[i] = v.String
		}
		if modelIDs.Valid {
			r.modelIDs = strings.Split(modelIDs.String, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// cursorComparison builds the lexicographic strict comparison that resumes
// the scan after the cursor row.
func cursorComparison(orderBy []orderColumn, vals []string, backward bool) (string, []any) {
	exprs := make([]string, 0, len(orderBy)+1)
	for _, o := range orderBy {
		exprs = append(exprs, o.expr())
	}
	exprs = append(exprs, "e.event_id")

	ops := make([]string, len(exprs))
	for i, o := range orderBy {
		if o.asc {
			ops[i] = ">"
		} else {
			ops[i] = "<"
		}
	}
	// The tiebreaker follows the fetch direction.
	if backward {
		ops[len(ops)-1] = ">"
	} else {
		ops[len(ops)-1] = "<"
	}

	var alts []string
	var args []any
	for i := range exprs {
		var parts []string
		for j := 0; j < i; j++ {
			parts = append(parts, fmt.Sprintf("%s = ?", exprs[j]))
			args = append(args, vals[j])
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", exprs[i], ops[i]))
		args = append(args, vals[i])
		alts = append(alts, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(alts, " OR ") + ")", args
}

func (q *QueryEngine) buildClause(clause entities.Clause, joins map[string]bool) (string, []any, error) {
	switch c := clause.(type) {
	case nil:
		return "", nil, nil
	case entities.HashedKeysClause:
		if len(c.IDs) == 0 {
			return "", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.IDs)), ", ")
		args := make([]any, len(c.IDs))
		for i, id := range c.IDs {
			args[i] = id
		}
		return "e.id IN (" + placeholders + ")", args, nil
	case entities.KeysClause:
		pattern := ""
		for _, k := range c.Keys {
			if k == nil {
				pattern += "%/"
			} else {
				pattern += *k + "/"
			}
		}
		if c.Pattern == entities.VariableLen {
			pattern += "%"
		}
		cond := "e.keys LIKE ?"
		args := []any{pattern}
		if len(c.Models) > 0 {
			selectors, err := q.modelSelectors(c.Models)
			if err != nil {
				return "", nil, err
			}
			cond += " AND em.model_id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(selectors)), ", ") + ")"
			for _, s := range selectors {
				args = append(args, s)
			}
		}
		return cond, args, nil
	case entities.MemberClause:
		tag, err := q.modelTag(c.Model)
		if err != nil {
			return "", nil, err
		}
		joins[tag] = true
		col := quoteIdent(tag) + "." + quoteIdent(c.Member)
		switch c.Operator {
		case entities.OpIn, entities.OpNotIn:
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.Value.List)), ", ")
			args := make([]any, 0, len(c.Value.List))
			for _, v := range c.Value.List {
				lit, err := memberLiteral(v)
				if err != nil {
					return "", nil, err
				}
				args = append(args, lit)
			}
			return fmt.Sprintf("%s %s (%s)", col, c.Operator, placeholders), args, nil
		default:
			lit, err := memberLiteral(c.Value)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s %s ?", col, c.Operator), []any{lit}, nil
		}
	case entities.CompositeClause:
		var parts []string
		var args []any
		for _, sub := range c.Clauses {
			part, subArgs, err := q.buildClause(sub, joins)
			if err != nil {
				return "", nil, err
			}
			if part == "" {
				continue
			}
			parts = append(parts, part)
			args = append(args, subArgs...)
		}
		if len(parts) == 0 {
			return "", nil, nil
		}
		return "(" + strings.Join(parts, " "+string(c.Operator)+" ") + ")", args, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported clause %T", domainerrors.ErrInvalidInput, clause)
	}
}

func memberLiteral(v entities.MemberValue) (any, error) {
	switch {
	case v.Primitive != nil:
		return v.Primitive.SQLValue()
	case v.String != nil:
		return *v.String, nil
	default:
		return nil, fmt.Errorf("%w: empty member value", domainerrors.ErrInvalidInput)
	}
}

func (q *QueryEngine) modelSelectors(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if strings.HasPrefix(ref, "0x") {
			out = append(out, ref)
			continue
		}
		selector, err := dojo.SelectorFromTag(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domainerrors.ErrInvalidInput, err)
		}
		out = append(out, utils.FeltToHex(selector))
	}
	return out, nil
}

// hydrate fills each page row's model values from the per-model tables.
func (q *QueryEngine) hydrate(ctx context.Context, requested []string, rows []pageRow) error {
	if len(rows) == 0 {
		return nil
	}

	wanted := map[string]bool{}
	for _, ref := range requested {
		selectors, err := q.modelSelectors([]string{ref})
		if err != nil {
			return err
		}
		wanted[selectors[0]] = true
	}

	selectors := map[string][]int{}
	for i, r := range rows {
		for _, id := range r.modelIDs {
			if len(wanted) > 0 && !wanted[id] {
				continue
			}
			selectors[id] = append(selectors[id], i)
		}
	}

	for selector, rowIdx := range selectors {
		model, err := q.cache.Get(selector)
		if err != nil {
			// A model in the edge table but not in the cache means the store
			// and the replica disagree; skip rather than fail the page.
			continue
		}
		if err := q.hydrateModel(ctx, model, rows, rowIdx); err != nil {
			return err
		}
	}
	return nil
}

func (q *QueryEngine) hydrateModel(ctx context.Context, model *entities.Model, rows []pageRow, rowIdx []int) error {
	ids := make([]any, len(rowIdx))
	byID := map[string]int{}
	for i, idx := range rowIdx {
		ids[i] = rows[idx].entity.ID
		byID[rows[idx].entity.ID] = idx
	}

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE internal_id IN (%s)",
		quoteIdent(model.Tag()), strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "))
	result, err := q.db.WithContext(ctx).Raw(stmt, ids...).Rows()
	if err != nil {
		return domainerrors.Storage(err)
	}
	defer result.Close()

	cols, err := result.Columns()
	if err != nil {
		return domainerrors.Storage(err)
	}

	for result.Next() {
		dest := make([]any, len(cols))
		vals := make([]sql.NullString, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := result.Scan(dest...); err != nil {
			return domainerrors.Storage(err)
		}
		row := map[string]sql.NullString{}
		for i, c := range cols {
			row[c] = vals[i]
		}

		ty := model.Schema.Clone()
		if err := mapRowToTy("", &ty, row); err != nil {
			return err
		}
		if idx, ok := byID[row["internal_id"].String]; ok {
			rows[idx].entity.Models = append(rows[idx].entity.Models, ty)
		}
	}
	return result.Err()
}

// mapRowToTy reverses the schema flattening for one stored row.
func mapRowToTy(prefix string, ty *entities.Ty, row map[string]sql.NullString) error {
	switch ty.Kind {
	case entities.KindPrimitive:
		v, ok := row[prefix]
		if !ok || !v.Valid {
			return nil
		}
		return ty.Primitive.SetFromSQL(v.String)
	case entities.KindStruct:
		for i := range ty.Struct.Children {
			c := &ty.Struct.Children[i]
			if err := mapRowToTy(joinPath(prefix, c.Name), &c.Ty, row); err != nil {
				return err
			}
		}
		return nil
	case entities.KindEnum:
		v, ok := row[prefix]
		if !ok || !v.Valid {
			return nil
		}
		for i := range ty.Enum.Options {
			if ty.Enum.Options[i].Name != v.String {
				continue
			}
			o := uint8(i)
			ty.Enum.Option = &o
			if isUnit(ty.Enum.Options[i].Ty) {
				return nil
			}
			return mapRowToTy(joinPath(prefix, v.String), &ty.Enum.Options[i].Ty, row)
		}
		return fmt.Errorf("%w: enum %s has no variant %q", domainerrors.ErrStorage, ty.Enum.Name, v.String)
	case entities.KindTuple:
		for i := range ty.Tuple {
			if err := mapRowToTy(joinPath(prefix, fmt.Sprint(i)), &ty.Tuple[i], row); err != nil {
				return err
			}
		}
		return nil
	case entities.KindArray:
		v, ok := row[prefix]
		if !ok || !v.Valid {
			return nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(v.String), &parsed); err != nil {
			return domainerrors.Storage(err)
		}
		return ty.SetJSONValue(parsed)
	case entities.KindByteArray:
		v, ok := row[prefix]
		if !ok || !v.Valid {
			return nil
		}
		s := v.String
		ty.ByteArray = &s
		return nil
	}
	return nil
}

func encodeCursor(vals []string) string {
	raw, _ := json.Marshal(vals)
	return base64.StdEncoding.EncodeToString(raw)
}

// decodeCursor returns nil for an empty cursor. A decoded cursor must carry
// one value per order column plus the event id tiebreaker.
func decodeCursor(cursor string, orderLen int) ([]string, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, domainerrors.InvalidCursor("cursor is not base64")
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, domainerrors.InvalidCursor("cursor is not a json string array")
	}
	if len(vals) != orderLen+1 {
		return nil, domainerrors.InvalidCursor(
			fmt.Sprintf("cursor carries %d values, order spec needs %d", len(vals), orderLen+1))
	}
	return vals, nil
}
