package outline

import (
	"strings"
)

// Request is what a text submission asks for. The concrete types are
// TasksRequest, HelpCommand, UserCommand and SearchCommand.
type Request interface {
	isRequest()
}

type TasksRequest struct {
	Lines []Line
}

type HelpCommand struct{}

type UserCommand struct{}

type SearchCommand struct {
	Condition Condition
}

func (TasksRequest) isRequest()  {}
func (HelpCommand) isRequest()   {}
func (UserCommand) isRequest()   {}
func (SearchCommand) isRequest() {}

// ParseRequest classifies text. Text starting with "/" is a command; any
// other text is an outline of tasks.
func ParseRequest(text string) (Request, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		lines, err := ParseLines(text)
		if err != nil {
			return nil, err
		}
		return TasksRequest{Lines: lines}, nil
	}
	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/help":
		return HelpCommand{}, nil
	case "/user":
		return UserCommand{}, nil
	case "/search":
		cond, err := ParseCondition(fields[1:])
		if err != nil {
			return nil, err
		}
		return SearchCommand{Condition: cond}, nil
	}
	return nil, malformed(0, "command", "unknown command %s", fields[0])
}

// Help describes the outline language.
const Help = `One task per line. Indent a line under another to make it point there.

  * #id head] title words startable- -deadline $weight @assign [tail link

  *          star the task (first token only)
  #12        update task 12 instead of creating one
  head]      name this line as a joint head
  [tail      point the head line named tail at this line (repeatable)
  3/1-       startable on March 1; dates are [[YYYY/]M/]D[Thh[:mm]]
  -3/31T18   deadline; 3/1-3/31 sets both
  $2.5       weight
  @alice     assignee (defaults to you)
  https://.. link (last token)

Commands:
  /help      this text
  /user      your account and permissions
  /search    terms: is:leaf not:archived weight:1..3 deadline:..6/30
             title:word title:/regex/ assign:alice link:word context:>#12`
