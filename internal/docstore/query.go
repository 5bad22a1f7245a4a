package docstore

import "sort"

// Matches reports whether doc satisfies every filter. A document lacking a
// filtered field never matches.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc.Fields[f.Field]
		if !ok {
			return false
		}
		if !matchOne(v, f) {
			return false
		}
	}
	return true
}

func matchOne(v any, f Filter) bool {
	switch f.Op {
	case Eq:
		return Equal(v, f.Value)
	case Ne:
		return !Equal(v, f.Value)
	}
	c, ok := Compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	}
	return false
}

// Apply filters, orders and limits docs according to q. docs is reordered in
// place; the returned slice aliases it.
func Apply(q Query, docs []Document) []Document {
	out := docs[:0]
	for _, d := range docs {
		if !Matches(d, q.Where) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := d.Fields[q.OrderBy]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	Sort(out, q.OrderBy, q.Direction)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Sort orders docs by field in the given direction, breaking ties (and
// incomparable values) by id ascending. An empty field sorts by id only.
func Sort(docs []Document, field string, dir Direction) {
	sort.SliceStable(docs, func(i, j int) bool {
		if field != "" {
			c, ok := Compare(docs[i].Fields[field], docs[j].Fields[field])
			if ok && c != 0 {
				if dir == Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}
