package sqlstore

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/JonMunkholm/catalog/internal/store"
)

// Result column aliases. Forward-embed columns come back as "embed.column";
// the '#' prefix marks bookkeeping columns stripped before rows are returned.
const (
	markerPrefix = "#"
	parentAlias  = "#parent"
)

func embedColumnAlias(embed, col string) string { return embed + "." + col }
func markerAlias(embed string) string            { return markerPrefix + embed }
func parentKeyAlias(embed string) string         { return markerPrefix + "ref." + embed }

type embedPlan struct {
	embed   store.Embed
	link    store.Link
	table   store.Table
	columns []string
	preds   []store.Predicate
}

// selectPlan is a SelectRequest resolved against the catalog. base carries
// FROM, JOIN and WHERE; the row query, the count query and the EXPLAIN
// query each add their own column list on top of it.
type selectPlan struct {
	table   store.Table
	columns []string
	forward []embedPlan
	reverse []embedPlan
	order   []string
	base    sq.SelectBuilder
}

type builder struct {
	d       dialect
	catalog store.Catalog
}

func (b builder) columnsOf(table string, items store.SelectExpr) ([]string, error) {
	var cols []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	if items.HasStar() {
		var known []string
		if b.catalog != nil {
			known = b.catalog.Columns(table)
		}
		if len(known) == 0 {
			return nil, fmt.Errorf("cannot expand * for %s: table has no known columns", table)
		}
		for _, c := range known {
			add(c)
		}
	}
	for _, c := range items.Columns() {
		if c != "*" {
			add(c)
		}
	}
	return cols, nil
}

func (b builder) plan(req store.SelectRequest) (*selectPlan, error) {
	expr, err := store.ParseSelect(req.Columns)
	if err != nil {
		return nil, err
	}
	name := req.Table.Name
	p := &selectPlan{table: req.Table}

	if expr.HasStar() && (b.catalog == nil || len(b.catalog.Columns(name)) == 0) && len(expr.Embeds()) == 0 {
		p.columns = nil
	} else if p.columns, err = b.columnsOf(name, expr); err != nil {
		return nil, err
	}

	var local []store.Predicate
	scoped := make(map[string][]store.Predicate)
	for _, f := range req.Filters {
		if f.Table == "" {
			local = append(local, f)
		} else {
			scoped[f.Table] = append(scoped[f.Table], f)
		}
	}

	base := b.d.builder().Select().From(qualified(req.Table) + " AS " + quoteIdent(name))
	embedded := make(map[string]embedPlan)

	for _, e := range expr.Embeds() {
		if len(e.Items.Embeds()) > 0 {
			return nil, fmt.Errorf("nested embeds under %s are not supported", e.Table)
		}
		if e.Table == name {
			return nil, fmt.Errorf("self-referencing embed %s is not supported", e.Table)
		}
		var link store.Link
		ok := false
		if b.catalog != nil {
			link, ok = b.catalog.Link(name, e.Table)
		}
		if !ok {
			return nil, fmt.Errorf("could not find a relationship between %s and %s", name, e.Table)
		}
		cols, err := b.columnsOf(e.Table, e.Items)
		if err != nil {
			return nil, err
		}
		ep := embedPlan{
			embed:   *e,
			link:    link,
			table:   store.Table{Schema: req.Table.Schema, Name: e.Table},
			columns: cols,
			preds:   scoped[e.Table],
		}
		embedded[e.Table] = ep

		switch link.Kind {
		case store.LinkForward:
			on := sq.And{sq.Expr(columnRef(e.Table, link.ForeignColumn) + " = " + columnRef(name, link.LocalColumn))}
			conds, err := b.conditions(e.Table, ep.preds)
			if err != nil {
				return nil, err
			}
			switch {
			case len(conds) == 0:
			case e.Inner:
				base = base.Where(conds)
			default:
				on = append(on, conds...)
			}
			onSQL, onArgs, err := on.ToSql()
			if err != nil {
				return nil, err
			}
			join := qualified(ep.table) + " AS " + quoteIdent(e.Table) + " ON " + onSQL
			if e.Inner {
				base = base.Join(join, onArgs...)
			} else {
				base = base.LeftJoin(join, onArgs...)
			}
			p.forward = append(p.forward, ep)
		case store.LinkReverse:
			if e.Inner {
				exists, err := b.exists(name, ep)
				if err != nil {
					return nil, err
				}
				base = base.Where(exists)
			}
			p.reverse = append(p.reverse, ep)
		}
	}

	for table := range scoped {
		if _, ok := embedded[table]; !ok {
			return nil, fmt.Errorf("filter on %s requires %s in the select expression", table, table)
		}
	}

	conds, err := b.conditions(name, local)
	if err != nil {
		return nil, err
	}
	if len(conds) > 0 {
		base = base.Where(conds)
	}

	for _, o := range req.Order {
		alias := name
		if o.Table != "" {
			ep, ok := embedded[o.Table]
			if !ok {
				return nil, fmt.Errorf("order on %s requires %s in the select expression", o.Table, o.Table)
			}
			if ep.link.Kind != store.LinkForward {
				return nil, fmt.Errorf("cannot order by one-to-many relation %s", o.Table)
			}
			alias = o.Table
		}
		dir := " ASC NULLS LAST"
		if o.Desc {
			dir = " DESC NULLS FIRST"
		}
		p.order = append(p.order, columnRef(alias, o.Column)+dir)
	}

	p.base = base
	return p, nil
}

func (b builder) conditions(alias string, preds []store.Predicate) (sq.And, error) {
	conds := sq.And{}
	for _, pr := range preds {
		c, err := b.d.predicate(columnRef(alias, pr.Column), pr)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// exists renders an EXISTS subquery restricting parent rows to those with at
// least one matching child in a one-to-many embed.
func (b builder) exists(parent string, ep embedPlan) (sq.Sqlizer, error) {
	conds, err := b.conditions(ep.embed.Table, ep.preds)
	if err != nil {
		return nil, err
	}
	sub := sq.Select("1").
		From(qualified(ep.table) + " AS " + quoteIdent(ep.embed.Table)).
		Where(columnRef(ep.embed.Table, ep.link.ForeignColumn) + " = " + columnRef(parent, ep.link.LocalColumn))
	if len(conds) > 0 {
		sub = sub.Where(conds)
	}
	subSQL, args, err := sub.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("EXISTS ("+subSQL+")", args...), nil
}

// rowColumns is the projected column list of the row query.
func (p *selectPlan) rowColumns() []string {
	name := p.table.Name
	var cols []string
	if p.columns == nil {
		cols = append(cols, quoteIdent(name)+".*")
	}
	for _, c := range p.columns {
		cols = append(cols, columnRef(name, c)+" AS "+quoteIdent(c))
	}
	for _, ep := range p.forward {
		cols = append(cols, columnRef(ep.embed.Table, ep.link.ForeignColumn)+" AS "+quoteIdent(markerAlias(ep.embed.Table)))
		for _, c := range ep.columns {
			cols = append(cols, columnRef(ep.embed.Table, c)+" AS "+quoteIdent(embedColumnAlias(ep.embed.Table, c)))
		}
	}
	for _, ep := range p.reverse {
		cols = append(cols, columnRef(name, ep.link.LocalColumn)+" AS "+quoteIdent(parentKeyAlias(ep.embed.Table)))
	}
	return cols
}

func (p *selectPlan) rowQuery(w *store.RowWindow) sq.SelectBuilder {
	q := p.base.Columns(p.rowColumns()...)
	if len(p.order) > 0 {
		q = q.OrderBy(p.order...)
	}
	if w != nil {
		q = q.Limit(w.Limit()).Offset(w.From)
	}
	return q
}

func (p *selectPlan) countQuery() sq.SelectBuilder {
	return p.base.Columns("COUNT(*)")
}

// childQuery fetches the children of a one-to-many embed for the given
// parent keys.
func (b builder) childQuery(ep embedPlan, parents []any) (sq.SelectBuilder, error) {
	alias := ep.embed.Table
	cols := make([]string, 0, len(ep.columns)+1)
	cols = append(cols, columnRef(alias, ep.link.ForeignColumn)+" AS "+quoteIdent(parentAlias))
	for _, c := range ep.columns {
		cols = append(cols, columnRef(alias, c)+" AS "+quoteIdent(c))
	}
	q := b.d.builder().Select(cols...).
		From(qualified(ep.table) + " AS " + quoteIdent(alias)).
		Where(sq.Eq{columnRef(alias, ep.link.ForeignColumn): parents})
	conds, err := b.conditions(alias, ep.preds)
	if err != nil {
		return q, err
	}
	if len(conds) > 0 {
		q = q.Where(conds)
	}
	return q, nil
}

// fold turns a flat result row into a Record with forward embeds nested.
// Bookkeeping columns are returned separately.
func fold(cols []string, values []any, forward []embedPlan) (store.Record, map[string]any) {
	rec := make(store.Record, len(cols))
	meta := make(map[string]any)
	nested := make(map[string]store.Record)
	for i, c := range cols {
		v := values[i]
		switch {
		case strings.HasPrefix(c, markerPrefix):
			meta[c] = v
		case strings.Contains(c, "."):
			dot := strings.IndexByte(c, '.')
			embed := c[:dot]
			if nested[embed] == nil {
				nested[embed] = make(store.Record)
			}
			nested[embed][c[dot+1:]] = v
		default:
			rec[c] = v
		}
	}
	for _, ep := range forward {
		name := ep.embed.Table
		if meta[markerAlias(name)] == nil {
			rec[name] = nil
			continue
		}
		embed := nested[name]
		if embed == nil {
			embed = make(store.Record)
		}
		rec[name] = embed
	}
	return rec, meta
}

func (b builder) insert(table store.Table, records []store.Record) ([]sq.Sqlizer, error) {
	groups := [][]store.Record{records}
	if !sameKeys(records) {
		groups = groups[:0]
		for _, r := range records {
			groups = append(groups, []store.Record{r})
		}
	}

	stmts := make([]sq.Sqlizer, 0, len(groups))
	for _, group := range groups {
		keys := sortedKeys(group[0])
		if len(keys) == 0 {
			for range group {
				stmts = append(stmts, sq.Expr("INSERT INTO "+qualified(table)+" DEFAULT VALUES RETURNING *"))
			}
			continue
		}
		quoted := make([]string, len(keys))
		for i, k := range keys {
			if !store.ValidIdent(k) {
				return nil, fmt.Errorf("invalid column name %q", k)
			}
			quoted[i] = quoteIdent(k)
		}
		q := b.d.builder().Insert(qualified(table)).Columns(quoted...)
		for _, r := range group {
			vals := make([]any, len(keys))
			for i, k := range keys {
				vals[i] = r[k]
			}
			q = q.Values(vals...)
		}
		stmts = append(stmts, q.Suffix("RETURNING *"))
	}
	return stmts, nil
}

func (b builder) update(table store.Table, values store.Record, match []store.Predicate) (sq.UpdateBuilder, error) {
	if len(values) == 0 {
		return sq.UpdateBuilder{}, fmt.Errorf("update %s: no values", table)
	}
	set := make(map[string]any, len(values))
	for k, v := range values {
		if !store.ValidIdent(k) {
			return sq.UpdateBuilder{}, fmt.Errorf("invalid column name %q", k)
		}
		set[quoteIdent(k)] = v
	}
	conds, err := b.localConditions("update", match)
	if err != nil {
		return sq.UpdateBuilder{}, err
	}
	q := b.d.builder().Update(qualified(table)).SetMap(set).Suffix("RETURNING *")
	if len(conds) > 0 {
		q = q.Where(conds)
	}
	return q, nil
}

func (b builder) delete(table store.Table, match []store.Predicate) (sq.DeleteBuilder, error) {
	conds, err := b.localConditions("delete", match)
	if err != nil {
		return sq.DeleteBuilder{}, err
	}
	q := b.d.builder().Delete(qualified(table)).Suffix("RETURNING *")
	if len(conds) > 0 {
		q = q.Where(conds)
	}
	return q, nil
}

func (b builder) localConditions(op string, match []store.Predicate) (sq.And, error) {
	for _, p := range match {
		if p.Table != "" {
			return nil, fmt.Errorf("predicate on %s.%s is not allowed in %s", p.Table, p.Column, op)
		}
	}
	return b.conditions("", match)
}

func sameKeys(records []store.Record) bool {
	if len(records) == 0 {
		return true
	}
	first := records[0]
	for _, r := range records[1:] {
		if len(r) != len(first) {
			return false
		}
		for k := range first {
			if _, ok := r[k]; !ok {
				return false
			}
		}
	}
	return true
}
