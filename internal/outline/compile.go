package outline

import (
	"fmt"
	"time"

	"blockline/internal/domain"
	"blockline/internal/graph"
)

// Slot is a task's position inside one batch. It is never stored.
type Slot int

// TmpTask is a compiled line with absolute times.
type TmpTask struct {
	Slot      Slot
	Line      int
	ID        *domain.TaskID
	Title     string
	Assign    string
	Starred   bool
	Startable *time.Time
	Deadline  *time.Time
	Weight    *float64
	Link      *string
}

// Batch is the unit of validation and commit.
type Batch struct {
	Tasks  []TmpTask
	Arrows []graph.Arrow[Slot]
}

// Index builds the batch graph, with every slot present as a node.
func (b Batch) Index() *graph.Index[Slot] {
	nodes := make([]Slot, len(b.Tasks))
	for i := range b.Tasks {
		nodes[i] = Slot(i)
	}
	return graph.New(b.Arrows, nodes...)
}

// Compile turns parsed lines into a batch. An indented line points at the
// nearest line above it with a smaller indent; a line with head h points at
// every line listing h among its tails.
func Compile(lines []Line, loc Localizer) (Batch, error) {
	var b Batch
	seen := map[graph.Arrow[Slot]]bool{}
	link := func(src, tgt int) {
		a := graph.Arrow[Slot]{Source: Slot(src), Target: Slot(tgt)}
		if !seen[a] {
			seen[a] = true
			b.Arrows = append(b.Arrows, a)
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		for j := i - 1; j >= 0; j-- {
			if lines[j].Indent < lines[i].Indent {
				link(i, j)
				break
			}
		}
		head := lines[i].JointHead
		if head == "" {
			continue
		}
		for k := len(lines) - 1; k >= 0; k-- {
			for _, tail := range lines[k].JointTails {
				if tail == head {
					link(i, k)
					break
				}
			}
		}
	}

	b.Tasks = make([]TmpTask, len(lines))
	for i, l := range lines {
		t := TmpTask{
			Slot:    Slot(i),
			Line:    l.Number,
			ID:      l.ID,
			Title:   l.Title,
			Assign:  l.Assign,
			Starred: l.Starred,
			Weight:  l.Weight,
		}
		if l.Link != "" {
			href := l.Link
			t.Link = &href
		}
		var err error
		if t.Startable, err = globalize(loc, l.Startable); err != nil {
			return Batch{}, malformed(l.Number, "startable", "%v", err)
		}
		if t.Deadline, err = globalize(loc, l.Deadline); err != nil {
			return Batch{}, malformed(l.Number, "deadline", "%v", err)
		}
		b.Tasks[i] = t
	}
	return b, nil
}

func globalize(loc Localizer, d *DateLiteral) (*time.Time, error) {
	if d == nil {
		return nil, nil
	}
	t, err := loc.Globalize(*d)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Mapping assigns every slot of a batch its persistent id.
type Mapping struct {
	ids []domain.TaskID
	set []bool
}

func NewMapping(n int) *Mapping {
	return &Mapping{ids: make([]domain.TaskID, n), set: make([]bool, n)}
}

func (m *Mapping) Set(s Slot, id domain.TaskID) {
	m.ids[s] = id
	m.set[s] = true
}

// Resolve returns the id for s. It fails for a slot that was never set.
func (m *Mapping) Resolve(s Slot) (domain.TaskID, error) {
	if int(s) < 0 || int(s) >= len(m.ids) || !m.set[s] {
		return 0, fmt.Errorf("slot %d has no task id", s)
	}
	return m.ids[s], nil
}

// Arrows remaps batch arrows into persistent arrows.
func (m *Mapping) Arrows(arrows []graph.Arrow[Slot]) ([]graph.Arrow[domain.TaskID], error) {
	out := make([]graph.Arrow[domain.TaskID], 0, len(arrows))
	for _, a := range arrows {
		src, err := m.Resolve(a.Source)
		if err != nil {
			return nil, err
		}
		tgt, err := m.Resolve(a.Target)
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Arrow[domain.TaskID]{Source: src, Target: tgt})
	}
	return out, nil
}
