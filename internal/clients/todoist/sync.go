package todoist

import (
	"context"
	"fmt"

	"github.com/tazhate/coursesync/internal/domain"
)

// CreateCollection creates a project for a course group and returns its id
func (c *Client) CreateCollection(ctx context.Context, name string) (string, error) {
	p, err := c.CreateProject(ctx, &CreateProjectRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("create project %q: %w", name, err)
	}
	return p.ID, nil
}

// DeleteCollection deletes the project of a course group
func (c *Client) DeleteCollection(ctx context.Context, projectID string) error {
	if err := c.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// CreateItem creates a task for item in project projectID
func (c *Client) CreateItem(ctx context.Context, projectID string, item domain.SourceItem) (string, error) {
	req := &CreateTaskRequest{
		Content:     item.Title,
		Description: description(item),
		ProjectID:   projectID,
		Labels:      []string{Label},
	}
	req.DueDate, req.DueDatetime = due(item)

	task, err := c.CreateTask(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return task.ID, nil
}

// UpdateItem rewrites the task content and due date
func (c *Client) UpdateItem(ctx context.Context, _ string, taskID string, item domain.SourceItem) error {
	req := &UpdateTaskRequest{
		Content:     item.Title,
		Description: description(item),
		Labels:      []string{Label},
	}
	req.DueDate, req.DueDatetime = due(item)

	if err := c.UpdateTask(ctx, taskID, req); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// DeleteItem deletes the task
func (c *Client) DeleteItem(ctx context.Context, _ string, taskID string) error {
	if err := c.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// due returns either a date for all-day items or an RFC 3339 instant
func due(item domain.SourceItem) (date, datetime string) {
	if item.Start.IsZero() {
		return "", ""
	}
	if item.AllDay {
		return item.Start.Format("2006-01-02"), ""
	}
	return "", item.Start.UTC().Format("2006-01-02T15:04:05Z")
}

func description(item domain.SourceItem) string {
	desc := item.Description
	if item.URL != "" {
		if desc != "" {
			desc += "\n\n"
		}
		desc += item.URL
	}
	return desc
}
