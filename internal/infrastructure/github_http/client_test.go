package github_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestListRepositories_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/pop-os/repos" {
			http.NotFound(w, r)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		var repos []map[string]string
		if page == 1 {
			for i := 0; i < perPage; i++ {
				repos = append(repos, map[string]string{
					"name":      fmt.Sprintf("repo-%d", i),
					"clone_url": fmt.Sprintf("https://example.com/repo-%d.git", i),
				})
			}
		} else {
			repos = []map[string]string{{"name": "last", "clone_url": "https://example.com/last.git"}}
		}
		_ = json.NewEncoder(w).Encode(repos)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)
	repos, err := c.ListRepositories(context.Background(), "pop-os")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repos) != perPage+1 {
		t.Errorf("expected %d repos, got %d", perPage+1, len(repos))
	}
	if repos[len(repos)-1].Name != "last" {
		t.Errorf("last repo: %+v", repos[len(repos)-1])
	}
}

func TestListBranches_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "master", "commit": map[string]string{"sha": "abc123"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)
	branches, err := c.ListBranches(context.Background(), "pop-os", "shell")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected a retry, got %d calls", calls)
	}
	if len(branches) != 1 || branches[0].Head != "abc123" {
		t.Errorf("branches: %+v", branches)
	}
}

func TestListBranches_NotFoundIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)
	if _, err := c.ListBranches(context.Background(), "pop-os", "gone"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("404 should not be retried, got %d calls", calls)
	}
}

func TestRequests_CarryToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	if _, err := c.ListRepositories(context.Background(), "pop-os"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization header: %q", auth)
	}
}
