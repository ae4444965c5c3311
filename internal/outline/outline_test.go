package outline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockline/internal/domain"
	"blockline/internal/graph"
)

func fixedZone(t *testing.T, tz string) Zone {
	t.Helper()
	z, err := NewZone(tz, func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) })
	require.NoError(t, err)
	return z
}

func compileText(t *testing.T, text string) (Batch, error) {
	t.Helper()
	lines, err := ParseLines(text)
	if err != nil {
		return Batch{}, err
	}
	return Compile(lines, fixedZone(t, "UTC"))
}

func slotArrows(pairs ...int) []graph.Arrow[Slot] {
	var out []graph.Arrow[Slot]
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, graph.Arrow[Slot]{Source: Slot(pairs[i]), Target: Slot(pairs[i+1])})
	}
	return out
}

func TestParseLineTokens(t *testing.T) {
	lines, err := ParseLines("* #7 a] write the report 5/1- -5/20T17:30 $2.5 @bob [b [c https://example.com/x")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	l := lines[0]
	assert.True(t, l.Starred)
	require.NotNil(t, l.ID)
	assert.Equal(t, domain.TaskID(7), *l.ID)
	assert.Equal(t, "a", l.JointHead)
	assert.Equal(t, []string{"b", "c"}, l.JointTails)
	assert.Equal(t, "write the report", l.Title)
	assert.Equal(t, "bob", l.Assign)
	require.NotNil(t, l.Weight)
	assert.Equal(t, 2.5, *l.Weight)
	assert.Equal(t, &DateLiteral{Month: 5, Day: 1}, l.Startable)
	assert.Equal(t, &DateLiteral{Month: 5, Day: 20, Hour: 17, Minute: 30}, l.Deadline)
	assert.Equal(t, "https://example.com/x", l.Link)
}

func TestParseLineKeepsHyphenatedWords(t *testing.T) {
	lines, err := ParseLines("follow-up with ops")
	require.NoError(t, err)
	assert.Equal(t, "follow-up with ops", lines[0].Title)
	assert.Nil(t, lines[0].Startable)
}

func TestParseLineKeepsHashtagWords(t *testing.T) {
	lines, err := ParseLines("#urgent fix #3 the #1st bug #")
	require.NoError(t, err)
	require.NotNil(t, lines[0].ID)
	assert.Equal(t, domain.TaskID(3), *lines[0].ID)
	assert.Equal(t, "#urgent fix the #1st bug #", lines[0].Title)
}

func TestParseLineRejects(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"no title", "@bob $1", "title"},
		{"bad weight", "task $abc", "weight"},
		{"nan weight", "task $NaN", "weight"},
		{"inf weight", "task $+Inf", "weight"},
		{"negative weight", "task $-1", "weight"},
		{"two ids", "task #1 #2", "id"},
		{"zero id", "task #0", "id"},
		{"huge id", "task #99999999999999999999", "id"},
		{"two deadlines", "task -5/1 -5/2", "deadline"},
		{"two heads", "a] b] task", "joint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLines("ok line\n" + tt.text)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, 2, pe.Line)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestParseLinesEmpty(t *testing.T) {
	_, err := ParseLines("\n   \n")
	require.Error(t, err)
}

func TestCompileIndentation(t *testing.T) {
	b, err := compileText(t, "A\n  B\n  C\n    D\nE")
	require.NoError(t, err)
	require.Len(t, b.Tasks, 5)
	assert.ElementsMatch(t, slotArrows(1, 0, 2, 0, 3, 2), b.Arrows)
}

func TestCompileTabsCountAsFourSpaces(t *testing.T) {
	b, err := compileText(t, "A\n\tB\n    C")
	require.NoError(t, err)
	assert.ElementsMatch(t, slotArrows(1, 0, 2, 0), b.Arrows)
}

func TestCompileJoints(t *testing.T) {
	b, err := compileText(t, "x] A\nB [x\nC [x")
	require.NoError(t, err)
	assert.ElementsMatch(t, slotArrows(0, 1, 0, 2), b.Arrows)
}

func TestCompileSelfJointIsCycle(t *testing.T) {
	b, err := compileText(t, "x] A [x")
	require.NoError(t, err)
	assert.Equal(t, slotArrows(0, 0), b.Arrows)
	assert.True(t, b.Index().HasCycle())
}

func TestCompileDeduplicatesArrows(t *testing.T) {
	b, err := compileText(t, "A [x\n  x] B")
	require.NoError(t, err)
	assert.Equal(t, slotArrows(1, 0), b.Arrows)
}

func TestCompileBlankLinesKeepNumbers(t *testing.T) {
	b, err := compileText(t, "A\n\n  B")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Tasks[1].Line)
	assert.Equal(t, slotArrows(1, 0), b.Arrows)
}

func TestCompileLocalizesDates(t *testing.T) {
	lines, err := ParseLines("A 6/1T9- -2025/1/2")
	require.NoError(t, err)
	b, err := Compile(lines, fixedZone(t, "Asia/Tokyo"))
	require.NoError(t, err)
	task := b.Tasks[0]
	require.NotNil(t, task.Startable)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *task.Startable)
	assert.Equal(t, time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC), *task.Deadline)
}

func TestCompileRejectsImpossibleDate(t *testing.T) {
	_, err := compileText(t, "A\nB -2/30")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, "deadline", pe.Field)
}

func TestMappingIsTotal(t *testing.T) {
	m := NewMapping(2)
	m.Set(0, 10)
	_, err := m.Arrows(slotArrows(1, 0))
	require.Error(t, err)

	m.Set(1, 11)
	got, err := m.Arrows(slotArrows(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []graph.Arrow[domain.TaskID]{{Source: 11, Target: 10}}, got)
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest("/help")
	require.NoError(t, err)
	assert.IsType(t, HelpCommand{}, req)

	req, err = ParseRequest("  /user")
	require.NoError(t, err)
	assert.IsType(t, UserCommand{}, req)

	req, err = ParseRequest("/search is:leaf not:archived weight:1..3 title:/^fix/ assign:@bob context:<#4")
	require.NoError(t, err)
	search, ok := req.(SearchCommand)
	require.True(t, ok)
	c := search.Condition
	require.NotNil(t, c.Leaf)
	assert.True(t, *c.Leaf)
	assert.False(t, *c.Archived)
	assert.Equal(t, 1.0, *c.Weight.Min)
	assert.Equal(t, 3.0, *c.Weight.Max)
	assert.Equal(t, &Expression{Regex: "^fix"}, c.Title)
	assert.Equal(t, &Expression{Words: []string{"bob"}}, c.Assign)
	assert.Equal(t, &Context{ID: 4, Direction: "sources"}, c.Context)

	req, err = ParseRequest("A\n  B")
	require.NoError(t, err)
	tasks, ok := req.(TasksRequest)
	require.True(t, ok)
	assert.Len(t, tasks.Lines, 2)
}

func TestParseRequestUnknownCommand(t *testing.T) {
	_, err := ParseRequest("/coffee")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "command", pe.Field)
}

func TestConditionCheck(t *testing.T) {
	_, err := ParseCondition([]string{"title:/^fix/", "report"})
	assert.Error(t, err, "regex and words are exclusive")
	assert.Error(t, Condition{Title: &Expression{Regex: "("}}.Check())
	assert.Error(t, Condition{Deadline: TimeRange{From: "13/40/1"}}.Check())
	assert.Error(t, Condition{Context: &Context{ID: 1, Direction: "up"}}.Check())
	assert.NoError(t, Condition{Deadline: TimeRange{To: "2024/6/30"}}.Check())
}
