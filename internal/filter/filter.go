// Package filter is the typed predicate tree search queries are expressed
// in. Storage backends translate it once: the postgres store compiles it to
// SQL, the memory store evaluates it with Match.
package filter

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
)

// Field is a filterable record column.
type Field string

const (
	FieldID       Field = "copilot_id"
	FieldStage    Field = "stage_name"
	FieldUploader Field = "uploader_id"
	FieldStatus   Field = "status"
	FieldDeleted  Field = "delete"
)

// Expr is one node of the tree.
type Expr interface {
	fmt.Stringer
	expr()
}

// Equals matches records whose field equals Value.
type Equals struct {
	Field Field
	Value any
}

// In matches records whose field is one of Values. An empty In matches
// nothing.
type In struct {
	Field  Field
	Values []any
}

// Like is a case-sensitive substring match.
type Like struct {
	Field     Field
	Substring string
}

// HasOperator matches records linked to at least one of Names.
type HasOperator struct {
	Names []string
}

type And []Expr

type Or []Expr

type Not struct {
	Expr Expr
}

func (Equals) expr()      {}
func (In) expr()          {}
func (Like) expr()        {}
func (HasOperator) expr() {}
func (And) expr()         {}
func (Or) expr()          {}
func (Not) expr()         {}

func (e Equals) String() string { return fmt.Sprintf("%s=%v", e.Field, e.Value) }
func (e In) String() string     { return fmt.Sprintf("%s in %v", e.Field, e.Values) }
func (e Like) String() string   { return fmt.Sprintf("%s~%q", e.Field, e.Substring) }
func (e HasOperator) String() string {
	return "opers(" + strings.Join(e.Names, ",") + ")"
}
func (e Not) String() string { return "!(" + e.Expr.String() + ")" }
func (e And) String() string { return join(e, " & ") }
func (e Or) String() string  { return join(e, " | ") }

func join(es []Expr, sep string) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// IDIn restricts to the given record ids.
func IDIn(ids []int64) In {
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return In{Field: FieldID, Values: vals}
}

// UploaderIn restricts to records by any of the given uploaders.
func UploaderIn(uploaders []string) In {
	vals := make([]any, len(uploaders))
	for i, u := range uploaders {
		vals[i] = u
	}
	return In{Field: FieldUploader, Values: vals}
}

// Match evaluates e against c in memory.
func Match(e Expr, c *copilot.Copilot) bool {
	switch n := e.(type) {
	case nil:
		return true
	case Equals:
		return equal(fieldValue(c, n.Field), n.Value)
	case In:
		v := fieldValue(c, n.Field)
		for _, want := range n.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case Like:
		s, ok := fieldValue(c, n.Field).(string)
		return ok && strings.Contains(s, n.Substring)
	case HasOperator:
		for _, have := range c.Operators {
			for _, want := range n.Names {
				if have == want {
					return true
				}
			}
		}
		return false
	case And:
		for _, child := range n {
			if !Match(child, c) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range n {
			if Match(child, c) {
				return true
			}
		}
		return false
	case Not:
		return !Match(n.Expr, c)
	}
	return false
}

func fieldValue(c *copilot.Copilot, f Field) any {
	switch f {
	case FieldID:
		return c.ID
	case FieldStage:
		return c.StageName
	case FieldUploader:
		return c.UploaderID
	case FieldStatus:
		return string(c.Status)
	case FieldDeleted:
		return c.Deleted
	}
	return nil
}

// equal compares with the loose typing callers build trees with: status may
// be given as copilot.Status or string, ids as any integer kind.
func equal(have, want any) bool {
	switch w := want.(type) {
	case copilot.Status:
		want = string(w)
	case int:
		want = int64(w)
	case int32:
		want = int64(w)
	}
	return have == want
}
