package outline

import (
	"math"
	"strconv"
	"strings"

	"blockline/internal/domain"
)

// Line is one task line with its attributes split out.
//
//	indent * #id head] title words startable- -deadline $weight @assign [tail link
type Line struct {
	Number     int
	Indent     int
	Starred    bool
	ID         *domain.TaskID
	JointHead  string
	JointTails []string
	Weight     *float64
	Assign     string
	Startable  *DateLiteral
	Deadline   *DateLiteral
	Link       string
	Title      string
}

// ParseLines splits text into task lines. Blank lines are skipped but still
// count for line numbers. Any malformed line fails the whole text.
func ParseLines(text string) ([]Line, error) {
	var lines []Line
	for i, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		l, err := parseLine(i+1, raw)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return nil, malformed(0, "", "no tasks given")
	}
	return lines, nil
}

func indentOf(raw string) int {
	n := 0
	for _, r := range raw {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func parseLine(num int, raw string) (Line, error) {
	l := Line{Number: num, Indent: indentOf(raw)}
	tokens := strings.Fields(raw)
	if len(tokens) > 0 && tokens[0] == "*" {
		l.Starred = true
		tokens = tokens[1:]
	}
	if n := len(tokens); n > 0 && strings.Contains(tokens[n-1], "://") {
		l.Link = tokens[n-1]
		tokens = tokens[:n-1]
	}
	var words []string
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, "#") && isDigits(tok[1:]):
			if l.ID != nil {
				return l, malformed(num, "id", "given more than once")
			}
			n, err := strconv.ParseInt(tok[1:], 10, 64)
			if err != nil || n <= 0 {
				return l, malformed(num, "id", "%q is not a task id", tok)
			}
			id := domain.TaskID(n)
			l.ID = &id
		case strings.HasSuffix(tok, "]") && len(tok) > 1 && !strings.HasPrefix(tok, "["):
			if l.JointHead != "" {
				return l, malformed(num, "joint", "line has two joint heads")
			}
			l.JointHead = strings.TrimSuffix(tok, "]")
		case strings.HasPrefix(tok, "[") && len(tok) > 1 && !strings.HasSuffix(tok, "]"):
			l.JointTails = append(l.JointTails, strings.TrimPrefix(tok, "["))
		case strings.HasPrefix(tok, "$") && len(tok) > 1:
			if l.Weight != nil {
				return l, malformed(num, "weight", "given more than once")
			}
			w, err := strconv.ParseFloat(tok[1:], 64)
			if err != nil {
				return l, malformed(num, "weight", "%q is not a number", tok[1:])
			}
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return l, malformed(num, "weight", "%q is out of range", tok[1:])
			}
			l.Weight = &w
		case strings.HasPrefix(tok, "@") && len(tok) > 1:
			if l.Assign != "" {
				return l, malformed(num, "assign", "given more than once")
			}
			l.Assign = tok[1:]
		case dateSpanRe.MatchString(tok) && tok != "-":
			if err := l.setSpan(tok); err != nil {
				return l, err
			}
		default:
			words = append(words, tok)
		}
	}
	l.Title = strings.Join(words, " ")
	if l.Title == "" {
		return l, malformed(num, "title", "required")
	}
	return l, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (l *Line) setSpan(tok string) error {
	from, to, _ := strings.Cut(tok, "-")
	if from != "" {
		if l.Startable != nil {
			return malformed(l.Number, "startable", "given more than once")
		}
		d, err := ParseDate(from)
		if err != nil {
			return malformed(l.Number, "startable", "%v", err)
		}
		l.Startable = &d
	}
	if to != "" {
		if l.Deadline != nil {
			return malformed(l.Number, "deadline", "given more than once")
		}
		d, err := ParseDate(to)
		if err != nil {
			return malformed(l.Number, "deadline", "%v", err)
		}
		l.Deadline = &d
	}
	return nil
}
