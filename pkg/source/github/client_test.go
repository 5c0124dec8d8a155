package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
)

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(source.Config{
		Provider: source.GitHub,
		URL:      serverURL,
		Token:    "secret",
	}, cache.NewNullCache(), time.Hour)
}

func TestProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != "application/json" && got != "application/vnd.github.v3+json" {
			t.Errorf("unexpected accept header %q", got)
		}
		w.Write([]byte(`[{"id":42,"full_name":"acme/widget","name":"widget","html_url":"https://github.com/acme/widget"}]`))
	}))
	defer server.Close()

	projects, err := testClient(t, server.URL).Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].FullName != "acme/widget" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
	if projects[0].URL != server.URL+"/repos/acme/widget" {
		t.Errorf("unexpected project URL: %s", projects[0].URL)
	}
}

func TestBranchesAndTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widget/branches":
			w.Write([]byte(`[{"name":"main","commit":{"sha":"abc123"}}]`))
		case "/repos/acme/widget/tags":
			w.Write([]byte(`[{"name":"v1.0.0","commit":{"sha":"def456"}}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	project := source.Project{ID: "42", FullName: "acme/widget", URL: server.URL + "/repos/acme/widget"}

	branches, err := c.Branches(context.Background(), project)
	if err != nil {
		t.Fatalf("Branches failed: %v", err)
	}
	if want := server.URL + "/repos/acme/widget/zipball/abc123"; branches[0].ZipURL != want {
		t.Errorf("expected zip URL %s, got %s", want, branches[0].ZipURL)
	}

	tags, err := c.Tags(context.Background(), project)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if want := server.URL + "/repos/acme/widget/zipball/def456"; tags[0].ZipURL != want {
		t.Errorf("expected zip URL %s, got %s", want, tags[0].ZipURL)
	}
}

func TestProjectsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := testClient(t, server.URL).Projects(context.Background())
	if !errors.Is(err, errors.ErrCodeUpstreamAuth) {
		t.Errorf("expected UPSTREAM_AUTH, got %v", err)
	}
}

func TestArchiveURL(t *testing.T) {
	c := testClient(t, "https://api.github.com")
	got := c.ArchiveURL(source.ArchiveRef{FullName: "acme/widget", SHA: "abc123"})
	want := "https://api.github.com/repos/acme/widget/zipball/abc123"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
