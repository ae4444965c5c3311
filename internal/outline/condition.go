package outline

import (
	"regexp"
	"strconv"
	"strings"

	"blockline/internal/domain"
)

// Condition filters a search. Unset parts do not filter.
type Condition struct {
	Archived  *bool       `json:"archived,omitempty"`
	Starred   *bool       `json:"starred,omitempty"`
	Leaf      *bool       `json:"leaf,omitempty"`
	Root      *bool       `json:"root,omitempty"`
	Weight    FloatRange  `json:"weight,omitempty"`
	Startable TimeRange   `json:"startable,omitempty"`
	Deadline  TimeRange   `json:"deadline,omitempty"`
	CreatedAt TimeRange   `json:"created_at,omitempty"`
	UpdatedAt TimeRange   `json:"updated_at,omitempty"`
	Title     *Expression `json:"title,omitempty"`
	Assign    *Expression `json:"assign,omitempty"`
	Link      *Expression `json:"link,omitempty"`
	Context   *Context    `json:"context,omitempty"`
}

type FloatRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// TimeRange bounds are date literals in the searcher's local time.
type TimeRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func (r TimeRange) IsZero() bool { return r.From == "" && r.To == "" }

// Expression matches either all of Words as substrings, or Regex.
type Expression struct {
	Words []string `json:"words,omitempty"`
	Regex string   `json:"regex,omitempty"`
}

// Context keeps only tasks reachable from ID in Direction.
type Context struct {
	ID        domain.TaskID `json:"id"`
	Direction string        `json:"direction" enum:"targets,sources"`
}

// Check validates the parts that can be checked without a user's timezone.
func (c Condition) Check() error {
	for field, e := range map[string]*Expression{"title": c.Title, "assign": c.Assign, "link": c.Link} {
		if e == nil {
			continue
		}
		if e.Regex != "" {
			if len(e.Words) > 0 {
				return malformed(0, field, "words and regex are exclusive")
			}
			if _, err := regexp.Compile(e.Regex); err != nil {
				return malformed(0, field, "%v", err)
			}
		}
	}
	for field, r := range map[string]TimeRange{"startable": c.Startable, "deadline": c.Deadline, "created_at": c.CreatedAt, "updated_at": c.UpdatedAt} {
		for _, s := range []string{r.From, r.To} {
			if s == "" {
				continue
			}
			if _, err := ParseDate(s); err != nil {
				return malformed(0, field, "%v", err)
			}
		}
	}
	if c.Weight.Min != nil && c.Weight.Max != nil && *c.Weight.Min > *c.Weight.Max {
		return malformed(0, "weight", "min is above max")
	}
	if c.Context != nil && c.Context.Direction != "targets" && c.Context.Direction != "sources" {
		return malformed(0, "context", "direction must be targets or sources")
	}
	return nil
}

// ParseCondition reads search terms such as
//
//	is:leaf not:archived weight:1..3 deadline:..6/30 title:/^fix/ assign:alice context:>#12
//
// Bare words match the title.
func ParseCondition(terms []string) (Condition, error) {
	var c Condition
	yes, no := true, false
	flag := func(name string, v *bool) error {
		switch name {
		case "archived":
			c.Archived = v
		case "starred":
			c.Starred = v
		case "leaf":
			c.Leaf = v
		case "root":
			c.Root = v
		default:
			return malformed(0, "search", "unknown flag %q", name)
		}
		return nil
	}
	expr := func(dst **Expression, val string) {
		if *dst == nil {
			*dst = &Expression{}
		}
		if len(val) > 2 && strings.HasPrefix(val, "/") && strings.HasSuffix(val, "/") {
			(*dst).Regex = val[1 : len(val)-1]
			return
		}
		(*dst).Words = append((*dst).Words, val)
	}
	for _, term := range terms {
		key, val, ok := strings.Cut(term, ":")
		if !ok {
			expr(&c.Title, term)
			continue
		}
		var err error
		switch key {
		case "is":
			err = flag(val, &yes)
		case "not":
			err = flag(val, &no)
		case "weight":
			c.Weight, err = parseFloatRange(val)
		case "startable":
			c.Startable, err = parseTimeRange(val)
		case "deadline":
			c.Deadline, err = parseTimeRange(val)
		case "created":
			c.CreatedAt, err = parseTimeRange(val)
		case "updated":
			c.UpdatedAt, err = parseTimeRange(val)
		case "title":
			expr(&c.Title, val)
		case "assign":
			expr(&c.Assign, strings.TrimPrefix(val, "@"))
		case "link":
			expr(&c.Link, val)
		case "context":
			c.Context, err = parseContext(val)
		default:
			err = malformed(0, "search", "unknown term %q", key)
		}
		if err != nil {
			return Condition{}, err
		}
	}
	if err := c.Check(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

func parseFloatRange(val string) (FloatRange, error) {
	from, to, ok := strings.Cut(val, "..")
	if !ok {
		from, to = val, val
	}
	var r FloatRange
	for _, side := range []struct {
		s   string
		dst **float64
	}{{from, &r.Min}, {to, &r.Max}} {
		if side.s == "" {
			continue
		}
		f, err := strconv.ParseFloat(side.s, 64)
		if err != nil {
			return r, malformed(0, "weight", "%q is not a number", side.s)
		}
		*side.dst = &f
	}
	return r, nil
}

func parseTimeRange(val string) (TimeRange, error) {
	from, to, ok := strings.Cut(val, "..")
	if !ok {
		return TimeRange{}, malformed(0, "search", "time range %q needs ..", val)
	}
	return TimeRange{From: from, To: to}, nil
}

func parseContext(val string) (*Context, error) {
	if len(val) < 2 {
		return nil, malformed(0, "context", "%q needs > or < and a task id", val)
	}
	var dir string
	switch val[0] {
	case '>':
		dir = "targets"
	case '<':
		dir = "sources"
	default:
		return nil, malformed(0, "context", "%q needs > or < and a task id", val)
	}
	id, err := domain.ParseTaskID(val[1:])
	if err != nil {
		return nil, malformed(0, "context", "%q is not a task id", val[1:])
	}
	return &Context{ID: id, Direction: dir}, nil
}
