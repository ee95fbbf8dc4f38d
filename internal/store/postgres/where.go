package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
)

var columns = map[filter.Field]string{
	filter.FieldID:       "c.copilot_id",
	filter.FieldStage:    "c.stage_name",
	filter.FieldUploader: "c.uploader_id",
	filter.FieldStatus:   "c.status",
	filter.FieldDeleted:  "c." + pq.QuoteIdentifier("delete"),
}

var orderColumns = map[copilot.Order]string{
	copilot.OrderHot:   "c.hot_score",
	copilot.OrderViews: "c.views",
	copilot.OrderID:    "c.copilot_id",
}

// where compiles a filter tree into a parameterized WHERE clause over the
// copilots table aliased as c. Placeholders are numbered in argument order.
type where struct {
	args []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) compile(e filter.Expr) (string, error) {
	switch n := e.(type) {
	case nil:
		return "TRUE", nil
	case filter.Equals:
		col, err := column(n.Field)
		if err != nil {
			return "", err
		}
		return col + " = " + w.arg(scalar(n.Value)), nil
	case filter.In:
		col, err := column(n.Field)
		if err != nil {
			return "", err
		}
		if len(n.Values) == 0 {
			return "FALSE", nil
		}
		arr, err := array(n.Field, n.Values)
		if err != nil {
			return "", err
		}
		return col + " = ANY(" + w.arg(arr) + ")", nil
	case filter.Like:
		col, err := column(n.Field)
		if err != nil {
			return "", err
		}
		return col + " LIKE " + w.arg("%"+escapeLike(n.Substring)+"%"), nil
	case filter.HasOperator:
		if len(n.Names) == 0 {
			return "FALSE", nil
		}
		return "EXISTS (SELECT 1 FROM copilot_operators o WHERE o.copilot_id = c.copilot_id AND o.name = ANY(" +
			w.arg(pq.Array(n.Names)) + "))", nil
	case filter.And:
		return w.join(n, " AND ", "TRUE")
	case filter.Or:
		return w.join(n, " OR ", "FALSE")
	case filter.Not:
		inner, err := w.compile(n.Expr)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}
	return "", fmt.Errorf("unsupported filter node %T", e)
}

func (w *where) join(es []filter.Expr, sep, empty string) (string, error) {
	if len(es) == 0 {
		return empty, nil
	}
	parts := make([]string, len(es))
	for i, e := range es {
		s, err := w.compile(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func column(f filter.Field) (string, error) {
	col, ok := columns[f]
	if !ok {
		return "", fmt.Errorf("unknown filter field %q", f)
	}
	return col, nil
}

func scalar(v any) any {
	switch x := v.(type) {
	case copilot.Status:
		return string(x)
	case copilot.CommentStatus:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	}
	return v
}

func array(f filter.Field, vals []any) (any, error) {
	if f == filter.FieldID {
		ids := make([]int64, len(vals))
		for i, v := range vals {
			id, ok := scalar(v).(int64)
			if !ok {
				return nil, fmt.Errorf("non-integer id %v in filter", v)
			}
			ids[i] = id
		}
		return pq.Array(ids), nil
	}
	strs := make([]string, len(vals))
	for i, v := range vals {
		s, ok := scalar(v).(string)
		if !ok {
			return nil, fmt.Errorf("non-string value %v for %s", v, f)
		}
		strs[i] = s
	}
	return pq.Array(strs), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
