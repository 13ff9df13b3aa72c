package dashboard

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// Contact is a dashboard contact record tied to a property.
type Contact struct {
	ContactType string `json:"contact_type"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status"`
}

// Task is a dashboard task record tied to a property.
type Task struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TaskType    string   `json:"task_type"`
	Priority    string   `json:"priority"`
	Location    string   `json:"location,omitempty"`
	DueTime     string   `json:"due_time,omitempty"`
	Actions     []string `json:"suggested_actions,omitempty"`
}

// Config holds Supabase connection settings. PropertyID scopes every insert
// to the agent's active property.
type Config struct {
	URL            string
	ServiceRoleKey string
	PropertyID     string
}

// Client persists contacts and tasks into the dashboard's Supabase tables.
type Client struct {
	client     *supabase.Client
	propertyID string
}

func New(config Config) (*Client, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("dashboard: create supabase client: %w", err)
	}
	return &Client{client: client, propertyID: config.PropertyID}, nil
}

type contactRow struct {
	PropertyID string `json:"property_id,omitempty"`
	Contact
}

type taskRow struct {
	PropertyID string `json:"property_id,omitempty"`
	Task
}

// execute runs an insert in a goroutine so the context deadline bounds the
// call; postgrest's Execute has no context variant at this version.
func execute(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateContact inserts one contact row. The context deadline bounds the
// request; failures are reported to the caller, never retried here.
func (c *Client) CreateContact(ctx context.Context, contact Contact) error {
	if contact.Status == "" {
		contact.Status = "active"
	}
	err := execute(ctx, func() error {
		_, _, err := c.client.From("property_contacts").
			Insert(contactRow{PropertyID: c.propertyID, Contact: contact}, false, "", "", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("dashboard: insert contact: %w", err)
	}
	return nil
}

// CreateTask inserts one task row.
func (c *Client) CreateTask(ctx context.Context, task Task) error {
	err := execute(ctx, func() error {
		_, _, err := c.client.From("property_tasks").
			Insert(taskRow{PropertyID: c.propertyID, Task: task}, false, "", "", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("dashboard: insert task: %w", err)
	}
	return nil
}
