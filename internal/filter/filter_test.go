package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
)

func TestMatch(t *testing.T) {
	c := &copilot.Copilot{
		ID:         20001,
		StageName:  "main_01-07",
		UploaderID: "u1",
		Status:     copilot.StatusPublic,
		Operators:  []string{"塞雷娅", "能天使"},
	}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"nil matches", nil, true},
		{"equals status typed", Equals{Field: FieldStatus, Value: copilot.StatusPublic}, true},
		{"equals deleted", Equals{Field: FieldDeleted, Value: false}, true},
		{"id in", IDIn([]int64{1, 20001}), true},
		{"id int literal", Equals{Field: FieldID, Value: 20001}, true},
		{"empty in", In{Field: FieldID}, false},
		{"uploader in", UploaderIn([]string{"u2"}), false},
		{"like stage", Like{Field: FieldStage, Substring: "01-07"}, true},
		{"like is case sensitive", Like{Field: FieldStage, Substring: "MAIN"}, false},
		{"has operator", HasOperator{Names: []string{"乌尔比安", "塞雷娅"}}, true},
		{"not has operator", Not{Expr: HasOperator{Names: []string{"乌尔比安"}}}, true},
		{"and short circuits", And{Equals{Field: FieldDeleted, Value: false}, UploaderIn([]string{"u2"})}, false},
		{"or", Or{UploaderIn([]string{"u2"}), Like{Field: FieldStage, Substring: "main"}}, true},
		{"empty and", And{}, true},
		{"empty or", Or{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.expr, c))
		})
	}
}

func TestString(t *testing.T) {
	e := And{
		Equals{Field: FieldDeleted, Value: false},
		Not{Expr: HasOperator{Names: []string{"a", "b"}}},
	}
	assert.Equal(t, "(delete=false & !(opers(a,b)))", e.String())
}
