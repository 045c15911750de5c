package todoist

// Task is the part of a created task we keep: its id
type Task struct {
	ID string `json:"id"`
}

// CreateTaskRequest for creating a new task
type CreateTaskRequest struct {
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	DueDatetime string   `json:"due_datetime,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// UpdateTaskRequest for updating a task. Description is always sent so
// that a cleared description clears the task.
type UpdateTaskRequest struct {
	Content     string   `json:"content"`
	Description string   `json:"description"`
	DueDate     string   `json:"due_date,omitempty"`
	DueDatetime string   `json:"due_datetime,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Project represents a Todoist project
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateProjectRequest for creating a project
type CreateProjectRequest struct {
	Name string `json:"name"`
}
