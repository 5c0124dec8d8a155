// Package gitea implements the source capability contract for Gitea.
package gitea

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/source"
)

// Client talks to the Gitea REST API (v1). Authentication uses a bearer
// token; all requests go through the shared transport for retries, caching
// and status mapping.
type Client struct {
	*source.Transport
	baseURL string
}

// NewClient creates a Gitea client for the instance at cfg.URL.
// Pass a NullCache to disable list-response caching.
func NewClient(cfg source.Config, c cache.Cache, ttl time.Duration) *Client {
	var headers map[string]string
	if cfg.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.Token}
	}
	return &Client{
		Transport: source.NewTransport(c, "gitea:", ttl, headers),
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
	}
}

// Projects lists the repositories visible to the configured token.
func (c *Client) Projects(ctx context.Context) ([]source.Project, error) {
	var data struct {
		Data []repoResponse `json:"data"`
	}
	if err := c.GetJSONCached(ctx, c.baseURL+"/api/v1/repos/search?limit=50", &data); err != nil {
		return nil, err
	}

	projects := make([]source.Project, 0, len(data.Data))
	for _, r := range data.Data {
		projects = append(projects, source.Project{
			ID:       strconv.FormatInt(r.ID, 10),
			FullName: r.FullName,
			Name:     r.Name,
			URL:      c.repoURL(r.FullName),
			WebURL:   r.HTMLURL,
		})
	}
	return projects, nil
}

// Branches lists the branches of a project, each with an archive URL
// pinned to the branch head commit.
func (c *Client) Branches(ctx context.Context, project source.Project) ([]source.Branch, error) {
	var data []branchResponse
	if err := c.GetJSONCached(ctx, project.URL+"/branches", &data); err != nil {
		return nil, err
	}

	branches := make([]source.Branch, 0, len(data))
	for _, b := range data {
		branches = append(branches, source.Branch{
			ID:     project.ID,
			Name:   b.Name,
			URL:    project.URL,
			ZipURL: c.archiveURL(project.FullName, b.Commit.ID),
		})
	}
	return branches, nil
}

// Tags lists the tags of a project, each with an archive URL pinned to the
// tagged commit.
func (c *Client) Tags(ctx context.Context, project source.Project) ([]source.Tag, error) {
	var data []tagResponse
	if err := c.GetJSONCached(ctx, project.URL+"/tags", &data); err != nil {
		return nil, err
	}

	tags := make([]source.Tag, 0, len(data))
	for _, t := range data {
		tags = append(tags, source.Tag{
			ID:     project.ID,
			Name:   t.Name,
			URL:    project.URL,
			ZipURL: c.archiveURL(project.FullName, t.Commit.SHA),
		})
	}
	return tags, nil
}

// CreateWebhook registers a push+delete webhook pointed at hook.CallbackURL.
func (c *Client) CreateWebhook(ctx context.Context, project source.Project, hook source.WebhookConfig) error {
	payload := map[string]any{
		"type":   "gitea",
		"active": true,
		"events": []string{"push", "delete"},
		"config": map[string]string{
			"url":          hook.CallbackURL,
			"content_type": "json",
			"secret":       hook.Secret,
		},
	}
	return c.PostJSON(ctx, project.URL+"/hooks", payload)
}

// ArchiveURL builds the zip download URL for an exact commit.
func (c *Client) ArchiveURL(ref source.ArchiveRef) string {
	return c.archiveURL(ref.FullName, ref.SHA)
}

func (c *Client) archiveURL(fullName, sha string) string {
	return fmt.Sprintf("%s/archive/%s.zip", c.repoURL(fullName), sha)
}

func (c *Client) repoURL(fullName string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s", c.baseURL, fullName)
}

type repoResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	HTMLURL  string `json:"html_url"`
}

type branchResponse struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

type tagResponse struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

var _ source.Client = (*Client)(nil)
