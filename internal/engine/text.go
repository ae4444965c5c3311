package engine

import (
	"context"
	"fmt"

	"blockline/internal/domain"
	"blockline/internal/outline"
)

const (
	ReplyTasks  = "tasks"
	ReplyHelp   = "help"
	ReplyUser   = "user"
	ReplySearch = "search"
)

// TextReply answers a text submission. Kind tells which fields are set:
// created and updated for tasks, help, user or tasks for search.
type TextReply struct {
	Kind    string           `json:"kind" enum:"tasks,help,user,search"`
	Created *int             `json:"created,omitempty"`
	Updated *int             `json:"updated,omitempty"`
	Help    string           `json:"help,omitempty"`
	User    *domain.UserInfo `json:"user,omitempty"`
	Tasks   []domain.Task    `json:"tasks,omitempty"`
}

// Counts returns the ingestion counts of a tasks reply.
func (r TextReply) Counts() IngestResult {
	var res IngestResult
	if r.Created != nil {
		res.Created = *r.Created
	}
	if r.Updated != nil {
		res.Updated = *r.Updated
	}
	return res
}

// Text runs whatever the submitted text asks for: an outline of tasks or
// one of the slash commands.
func (e Engine) Text(ctx context.Context, actorName, text string) (TextReply, error) {
	req, err := outline.ParseRequest(text)
	if err != nil {
		return TextReply{}, err
	}
	switch r := req.(type) {
	case outline.TasksRequest:
		res, err := e.Ingest(ctx, actorName, r.Lines)
		if err != nil {
			return TextReply{}, err
		}
		return TextReply{Kind: ReplyTasks, Created: &res.Created, Updated: &res.Updated}, nil
	case outline.HelpCommand:
		return TextReply{Kind: ReplyHelp, Help: outline.Help}, nil
	case outline.UserCommand:
		info, err := e.UserInfo(ctx, actorName)
		if err != nil {
			return TextReply{}, err
		}
		return TextReply{Kind: ReplyUser, User: &info}, nil
	case outline.SearchCommand:
		tasks, err := e.Search(ctx, actorName, r.Condition)
		if err != nil {
			return TextReply{}, err
		}
		return TextReply{Kind: ReplySearch, Tasks: tasks}, nil
	default:
		return TextReply{}, fmt.Errorf("unhandled request %T", req)
	}
}
