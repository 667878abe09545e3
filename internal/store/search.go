package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// Search operators.
const (
	OpExact      = "exact"
	OpNe         = "ne"
	OpGt         = "gt"
	OpGe         = "ge"
	OpLt         = "lt"
	OpLe         = "le"
	OpStartsWith = "startswith"
	OpContains   = "contains"
)

var compareOps = map[string]string{
	OpExact: sqldb.OpEq,
	OpNe:    sqldb.OpNe,
	OpGt:    sqldb.OpGt,
	OpGe:    sqldb.OpGe,
	OpLt:    sqldb.OpLt,
	OpLe:    sqldb.OpLe,
}

// anyOps are the operators allowed after "any".
var anyOps = map[string]bool{OpExact: true, OpStartsWith: true, OpContains: true}

// Filter selects documents where some stored value of Field satisfies Op
// against at least one of Values.
type Filter struct {
	Op     string
	Field  string
	Values []string
}

// SortKey orders search results by a field.
type SortKey struct {
	Field string
	Desc  bool
}

// Criteria is a parsed search.
type Criteria struct {
	Filters []Filter
	Show    []string
	ShowAll bool
	Sort    []SortKey
	Limit   *int
	Offset  *int
}

// SplitCriteria splits the part of a search URL after /search/ into
// percent-decoded segments.
func SplitCriteria(tail string) ([]string, error) {
	tail = strings.Trim(tail, "/")
	if tail == "" {
		return nil, nil
	}
	parts := strings.Split(tail, "/")
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, model.ErrBadSearchCondition("bad escape in %q", p)
		}
		parts[i] = s
	}
	return parts, nil
}

// ParseCriteria interprets search segments left to right.
func ParseCriteria(segments []string) (*Criteria, error) {
	c := &Criteria{}
	next := func(i, n int) ([]string, error) {
		if i+n >= len(segments) {
			return nil, model.ErrBadSearchCondition("%s needs %d argument(s)", segments[i], n)
		}
		return segments[i+1 : i+1+n], nil
	}

	for i := 0; i < len(segments); {
		tok := segments[i]
		switch {
		case compareOps[tok] != "" || tok == OpStartsWith || tok == OpContains:
			args, err := next(i, 2)
			if err != nil {
				return nil, err
			}
			c.Filters = append(c.Filters, Filter{Op: tok, Field: args[0], Values: []string{args[1]}})
			i += 3

		case tok == "any":
			if i+1 >= len(segments) {
				return nil, model.ErrMissingAnyOperator()
			}
			op := segments[i+1]
			if !anyOps[op] {
				return nil, model.ErrInvalidAnyOperator(op)
			}
			args, err := next(i+1, 2)
			if err != nil {
				return nil, err
			}
			values, err := anyValues(args[1])
			if err != nil {
				return nil, err
			}
			c.Filters = append(c.Filters, Filter{Op: op, Field: args[0], Values: values})
			i += 4

		case tok == "show_all":
			c.ShowAll = true
			i++

		case tok == "show":
			args, err := next(i, 1)
			if err != nil {
				return nil, err
			}
			c.Show = append(c.Show, args[0])
			i += 2

		case tok == "sort" || tok == "rsort":
			args, err := next(i, 1)
			if err != nil {
				return nil, err
			}
			c.Sort = append(c.Sort, SortKey{Field: args[0], Desc: tok == "rsort"})
			i += 2

		case tok == "limit" || tok == "offset":
			args, err := next(i, 1)
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(args[0])
			if tok == "limit" {
				if err != nil || n < 0 {
					return nil, model.ErrBadLimitValue(args[0])
				}
				c.Limit = &n
			} else {
				if err != nil || n < 0 {
					return nil, model.ErrBadOffsetValue(args[0])
				}
				c.Offset = &n
			}
			i += 2

		default:
			return nil, model.ErrBadSearchCondition("unknown search condition %q", tok)
		}
	}

	if (c.Limit != nil || c.Offset != nil) && len(c.Sort) == 0 {
		return nil, model.ErrLimitWithoutSort()
	}
	return c, nil
}

func anyValues(raw string) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var list []any
	if err := dec.Decode(&list); err != nil || list == nil {
		return nil, model.ErrBadAnySearchValue(raw)
	}
	values := make([]string, 0, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case string:
			values = append(values, v)
		case json.Number:
			values = append(values, v.String())
		case bool:
			values = append(values, strconv.FormatBool(v))
		default:
			return nil, model.ErrBadAnySearchValue(raw)
		}
	}
	return values, nil
}

// Search runs c and expands the matching ids into id stubs, projected
// documents or full documents.
func (s *Storage) Search(ctx context.Context, tx *sqldb.Tx, c *Criteria) ([]model.Resource, error) {
	if !c.ShowAll {
		for _, f := range c.Show {
			if !s.proto.Has(f) {
				return nil, model.ErrFieldNotInResource(f)
			}
		}
	}
	ids, err := s.SearchIDs(ctx, tx, c)
	if err != nil {
		return nil, err
	}

	out := make([]model.Resource, 0, len(ids))
	for _, id := range ids {
		var doc model.Resource
		switch {
		case c.ShowAll:
			doc, err = s.Get(ctx, tx, id)
		case len(c.Show) > 0:
			doc, err = s.Get(ctx, tx, id, c.Show...)
		default:
			doc = model.Resource{model.FieldID: id}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// SearchIDs returns the ids of the documents matching c's filters, in c's
// order.
func (s *Storage) SearchIDs(ctx context.Context, tx *sqldb.Tx, c *Criteria) ([]string, error) {
	stmt, params, err := s.searchStatement(tx.Dialect, c)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, "search "+s.typ, stmt, params)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.typ, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := sqldb.FromDB(model.Text, r[schema.ColID]).(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Storage) searchStatement(d sqldb.Dialect, c *Criteria) (string, map[string]any, error) {
	principal := s.principal()
	b := sqldb.NewBuilder()

	where := sqldb.And{}
	for _, f := range c.Filters {
		cond, err := s.filterCondition(principal, f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, cond)
	}

	var joins, order []string
	for i, key := range c.Sort {
		fc, ok := s.sortColumn(key.Field)
		if !ok {
			return "", nil, model.ErrFieldNotInResource(key.Field)
		}
		var expr string
		if fc.Table.Kind == schema.Principal {
			expr = b.Column(principal, fc.Column.Name)
		} else {
			alias := fmt.Sprintf("s%d", i)
			on := []string{fmt.Sprintf("%s = %s", b.Column(alias, schema.ColID), b.Column(principal, schema.ColID))}
			for _, pos := range fc.Table.Positional() {
				on = append(on, b.Column(alias, pos)+" = 0")
			}
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s",
				b.Quote(fc.Table.Name), b.Quote(alias), strings.Join(on, " AND ")))
			expr = b.Column(alias, fc.Column.Name)
		}
		if fc.Column.Kind == model.Text {
			expr = "LOWER(" + expr + ")"
		}
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("(%s IS NULL) %s", expr, dir), expr+" "+dir)
	}
	order = append(order, b.Column(principal, schema.ColID)+" ASC")

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", b.Column(principal, schema.ColID), b.Quote(principal))
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	sb.WriteString(" WHERE " + b.Where(where))
	sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
	switch {
	case c.Limit != nil:
		fmt.Fprintf(&sb, " LIMIT %d", *c.Limit)
		if c.Offset != nil {
			fmt.Fprintf(&sb, " OFFSET %d", *c.Offset)
		}
	case c.Offset != nil:
		sb.WriteString(" " + d.OffsetOnly(strconv.Itoa(*c.Offset)))
	}
	if err := b.Err(); err != nil {
		return "", nil, err
	}
	return sb.String(), b.Params(), nil
}

// filterCondition ORs the filter over every column storing the field.
// Principal columns are compared in place; other tables become semi-joins
// so a document matches when any element does.
func (s *Storage) filterCondition(principal string, f Filter) (sqldb.Condition, error) {
	cols := s.tables.Resolve(f.Field)
	if len(cols) == 0 {
		return nil, model.ErrFieldNotInResource(f.Field)
	}
	alts := sqldb.Or{}
	if len(f.Values) == 0 {
		return alts, nil
	}
	for _, fc := range cols {
		for _, v := range f.Values {
			cmp, ok := compare(f.Op, fc, v)
			if !ok {
				continue
			}
			if fc.Table.Kind == schema.Principal {
				alts = append(alts, cmp)
			} else {
				alts = append(alts, sqldb.IDIn{Table: principal, Sub: fc.Table.Name, Where: cmp})
			}
		}
	}
	if len(alts) == 0 {
		return nil, model.ErrBadSearchValue(f.Field, strings.Join(f.Values, ","))
	}
	return alts, nil
}

// compare builds the comparison of one column with a URL value, or false
// when the value cannot be compared with the column's kind.
func compare(op string, fc schema.FieldColumn, raw string) (sqldb.Compare, bool) {
	cmp := sqldb.Compare{Table: fc.Table.Name, Column: fc.Column.Name, Kind: fc.Column.Kind}
	switch op {
	case OpStartsWith, OpContains:
		if fc.Column.Kind != model.Text {
			return cmp, false
		}
		cmp.Op = sqldb.OpLike
		cmp.Value = sqldb.LikePrefix(raw)
		if op == OpContains {
			cmp.Value = sqldb.LikeContains(raw)
		}
		return cmp, true
	}

	cmp.Op = compareOps[op]
	switch fc.Column.Kind {
	case model.Text:
		cmp.Value = raw
		if fc.Table.Kind == schema.Principal && fc.Column.Name == schema.ColID {
			cmp.Kind = 0 // ids match exactly
		}
	case model.Integer:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cmp, false
		}
		cmp.Value = n
	case model.Boolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return cmp, false
		}
		cmp.Value = b
	default:
		return cmp, false
	}
	return cmp, true
}

// sortColumn picks the column ordering a field: the first resolved one,
// which is the principal column when the field is a top-level scalar.
func (s *Storage) sortColumn(field string) (schema.FieldColumn, bool) {
	for _, fc := range s.tables.Resolve(field) {
		if fc.Column.Kind != model.Bytes {
			return fc, true
		}
	}
	return schema.FieldColumn{}, false
}
