package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type capturedInsert struct {
	path string
	body map[string]any
}

func newRESTServer(t *testing.T) (*httptest.Server, func() []capturedInsert) {
	t.Helper()
	var mu sync.Mutex
	var inserts []capturedInsert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		inserts = append(inserts, capturedInsert{path: r.URL.Path, body: row})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedInsert {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedInsert(nil), inserts...)
	}
}

func TestCreateContact_InsertsScopedRow(t *testing.T) {
	srv, gotInserts := newRESTServer(t)
	c, err := New(Config{URL: srv.URL, ServiceRoleKey: "svc-key", PropertyID: "prop-42"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = c.CreateContact(context.Background(), Contact{
		ContactType: "buyer",
		Name:        "Dana Reyes",
		Phone:       "+15550100",
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	inserts := gotInserts()
	if len(inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(inserts))
	}
	if inserts[0].path != "/rest/v1/property_contacts" {
		t.Fatalf("path = %s", inserts[0].path)
	}
	row := inserts[0].body
	if row["property_id"] != "prop-42" {
		t.Fatalf("property_id = %v, want prop-42", row["property_id"])
	}
	if row["name"] != "Dana Reyes" {
		t.Fatalf("name = %v", row["name"])
	}
	if row["status"] != "active" {
		t.Fatalf("status = %v, want active default", row["status"])
	}
}

func TestCreateTask_InsertsScopedRow(t *testing.T) {
	srv, gotInserts := newRESTServer(t)
	c, err := New(Config{URL: srv.URL, ServiceRoleKey: "svc-key", PropertyID: "prop-42"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = c.CreateTask(context.Background(), Task{
		Title:    "Schedule inspection",
		TaskType: "inspection",
		Priority: "high",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	inserts := gotInserts()
	if len(inserts) != 1 || inserts[0].path != "/rest/v1/property_tasks" {
		t.Fatalf("inserts = %+v, want one to /rest/v1/property_tasks", inserts)
	}
	row := inserts[0].body
	if row["title"] != "Schedule inspection" || row["property_id"] != "prop-42" {
		t.Fatalf("row = %v", row)
	}
}

func TestCreateTask_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, ServiceRoleKey: "svc-key", PropertyID: "prop-42"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.CreateTask(context.Background(), Task{Title: "x"}); err == nil {
		t.Fatal("expected error on 403 response")
	}
}

func TestCreateContact_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{URL: srv.URL, ServiceRoleKey: "svc-key", PropertyID: "prop-42"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.CreateContact(ctx, Contact{Name: "Dana"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
