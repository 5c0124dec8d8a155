// Package gitlab implements the source capability contract for GitLab.
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/source"
)

// Client talks to the GitLab REST API (v4). Authentication uses the
// PRIVATE-TOKEN header; all requests go through the shared transport for
// retries, caching and status mapping.
type Client struct {
	*source.Transport
	baseURL string
}

// NewClient creates a GitLab client for the instance at cfg.URL.
// Pass a NullCache to disable list-response caching.
func NewClient(cfg source.Config, c cache.Cache, ttl time.Duration) *Client {
	var headers map[string]string
	if cfg.Token != "" {
		headers = map[string]string{"PRIVATE-TOKEN": cfg.Token}
	}
	return &Client{
		Transport: source.NewTransport(c, "gitlab:", ttl, headers),
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
	}
}

// Projects lists the projects visible to the configured token.
func (c *Client) Projects(ctx context.Context) ([]source.Project, error) {
	var data []projectResponse
	if err := c.GetJSONCached(ctx, c.baseURL+"/api/v4/projects?membership=true&per_page=100", &data); err != nil {
		return nil, err
	}

	projects := make([]source.Project, 0, len(data))
	for _, p := range data {
		id := strconv.FormatInt(p.ID, 10)
		projects = append(projects, source.Project{
			ID:       id,
			FullName: p.PathWithNamespace,
			Name:     p.Name,
			URL:      c.repositoryURL(id),
			WebURL:   p.WebURL,
		})
	}
	return projects, nil
}

// Branches lists the branches of a project, each with an archive URL
// pinned to the branch head commit.
func (c *Client) Branches(ctx context.Context, project source.Project) ([]source.Branch, error) {
	var data []refResponse
	if err := c.GetJSONCached(ctx, project.URL+"/branches", &data); err != nil {
		return nil, err
	}

	branches := make([]source.Branch, 0, len(data))
	for _, b := range data {
		branches = append(branches, source.Branch{
			ID:     project.ID,
			Name:   b.Name,
			URL:    project.URL,
			ZipURL: c.archiveURL(project.ID, b.Commit.ID),
		})
	}
	return branches, nil
}

// Tags lists the tags of a project, each with an archive URL pinned to the
// tagged commit.
func (c *Client) Tags(ctx context.Context, project source.Project) ([]source.Tag, error) {
	var data []refResponse
	if err := c.GetJSONCached(ctx, project.URL+"/tags", &data); err != nil {
		return nil, err
	}

	tags := make([]source.Tag, 0, len(data))
	for _, t := range data {
		tags = append(tags, source.Tag{
			ID:     project.ID,
			Name:   t.Name,
			URL:    project.URL,
			ZipURL: c.archiveURL(project.ID, t.Commit.ID),
		})
	}
	return tags, nil
}

// CreateWebhook registers a push+tag-push webhook pointed at
// hook.CallbackURL. GitLab reports deletions through push events with an
// all-zero after commit, so no separate delete event is needed.
func (c *Client) CreateWebhook(ctx context.Context, project source.Project, hook source.WebhookConfig) error {
	payload := map[string]any{
		"url":             hook.CallbackURL,
		"token":           hook.Secret,
		"push_events":     true,
		"tag_push_events": true,
	}
	url := fmt.Sprintf("%s/api/v4/projects/%s/hooks", c.baseURL, project.ID)
	return c.PostJSON(ctx, url, payload)
}

// ArchiveURL builds the archive download URL for an exact commit.
func (c *Client) ArchiveURL(ref source.ArchiveRef) string {
	return c.archiveURL(ref.ProjectID, ref.SHA)
}

func (c *Client) archiveURL(projectID, sha string) string {
	return fmt.Sprintf("%s/archive.zip?sha=%s", c.repositoryURL(projectID), sha)
}

func (c *Client) repositoryURL(projectID string) string {
	return fmt.Sprintf("%s/api/v4/projects/%s/repository", c.baseURL, projectID)
}

type projectResponse struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	Name              string `json:"name"`
	WebURL            string `json:"web_url"`
}

// refResponse covers both branch and tag listings; GitLab nests the commit
// id identically in both.
type refResponse struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

var _ source.Client = (*Client)(nil)
