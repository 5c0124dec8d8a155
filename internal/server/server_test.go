package server

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matzehuels/depot/internal/blob"
	"github.com/matzehuels/depot/internal/ingest"
	"github.com/matzehuels/depot/internal/store"
	"github.com/matzehuels/depot/pkg/source"
)

const testSecret = "hook-secret"

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

type fakeClient struct {
	archive   []byte
	branches  []source.Branch
	hookCalls []source.WebhookConfig
}

func (c *fakeClient) Projects(context.Context) ([]source.Project, error) {
	return []source.Project{{ID: "1", FullName: "acme/widget", Name: "widget"}}, nil
}
func (c *fakeClient) Branches(context.Context, source.Project) ([]source.Branch, error) {
	return c.branches, nil
}
func (c *fakeClient) Tags(context.Context, source.Project) ([]source.Tag, error) {
	return nil, nil
}
func (c *fakeClient) CreateWebhook(_ context.Context, _ source.Project, hook source.WebhookConfig) error {
	c.hookCalls = append(c.hookCalls, hook)
	return nil
}
func (c *fakeClient) ArchiveURL(ref source.ArchiveRef) string {
	return "https://git.example.com/" + ref.SHA + ".zip"
}
func (c *fakeClient) FetchArchive(context.Context, string) ([]byte, error) {
	return c.archive, nil
}

type fixture struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	client *fakeClient
	repo   *store.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	archives, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	client := &fakeClient{}
	engine := ingest.New(s, archives, func(*store.Source) (source.Client, error) {
		return client, nil
	})

	repo := &store.Repository{Name: "main"}
	if err := s.CreateRepository(context.Background(), repo); err != nil {
		t.Fatalf("CreateRepository failed: %v", err)
	}

	server := New(s, engine, archives, "https://depot.example.com", testSecret, nil)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: s, client: client, repo: repo}
}

func (f *fixture) upload(t *testing.T, versionName string, files map[string]string) {
	t.Helper()
	archive := makeZip(t, files)
	resp, err := http.Post(f.srv.URL+"/main/upload?version="+versionName, "application/zip", bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload returned %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestPackagesJSON(t *testing.T) {
	f := newFixture(t)

	var doc map[string]string
	getJSON(t, f.srv.URL+"/main/packages.json", &doc)

	if want := "https://depot.example.com/main/p2/%package%.json"; doc["metadata-url"] != want {
		t.Errorf("expected metadata-url %s, got %s", want, doc["metadata-url"])
	}
	if doc["list"] == "" || doc["search"] == "" {
		t.Errorf("missing list or search URL: %v", doc)
	}
}

func TestUnknownRepository(t *testing.T) {
	f := newFixture(t)
	resp := getJSON(t, f.srv.URL+"/nope/packages.json", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUploadCreatesPackageAndServesMetadata(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "1.0.0", map[string]string{
		"composer.json": `{"name":"acme/widget","description":"a widget","require":{"php":">=8.1"}}`,
	})

	var doc struct {
		Packages map[string][]map[string]any `json:"packages"`
		Minified string                      `json:"minified"`
	}
	resp := getJSON(t, f.srv.URL+"/main/p2/acme/widget.json", &doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata returned %d", resp.StatusCode)
	}
	if doc.Minified != "composer/2.0" {
		t.Errorf("expected composer/2.0, got %s", doc.Minified)
	}

	versions := doc.Packages["acme/widget"]
	if len(versions) != 1 {
		t.Fatalf("expected one version, got %d", len(versions))
	}
	v := versions[0]
	if v["version"] != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %v", v["version"])
	}
	if req, ok := v["require"].(map[string]any); !ok || req["php"] != ">=8.1" {
		t.Errorf("manifest fields must survive: %v", v)
	}
	dist, ok := v["dist"].(map[string]any)
	if !ok {
		t.Fatalf("missing dist: %v", v)
	}
	if want := "https://depot.example.com/main/dist/acme/widget/1.0.0.zip"; dist["url"] != want {
		t.Errorf("expected dist url %s, got %v", want, dist["url"])
	}
	if dist["shasum"] == "" {
		t.Error("missing dist shasum")
	}
}

func TestMetadataDevSplit(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "1.0.0", map[string]string{"composer.json": `{"name":"acme/widget"}`})
	f.upload(t, "dev-main", map[string]string{"composer.json": `{"name":"acme/widget"}`})

	var stable struct {
		Packages map[string][]map[string]any `json:"packages"`
	}
	getJSON(t, f.srv.URL+"/main/p2/acme/widget.json", &stable)
	if got := stable.Packages["acme/widget"]; len(got) != 1 || got[0]["version"] != "1.0.0" {
		t.Errorf("unexpected stable versions: %v", got)
	}

	var dev struct {
		Packages map[string][]map[string]any `json:"packages"`
	}
	getJSON(t, f.srv.URL+"/main/p2/acme/widget~dev.json", &dev)
	if got := dev.Packages["acme/widget"]; len(got) != 1 || got[0]["version"] != "dev-main" {
		t.Errorf("unexpected dev versions: %v", got)
	}
}

func TestSearchAndList(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "1.0.0", map[string]string{"composer.json": `{"name":"acme/widget"}`})
	f.upload(t, "1.0.0", map[string]string{"composer.json": `{"name":"other/tool"}`})

	var list struct {
		PackageNames []string `json:"packageNames"`
	}
	getJSON(t, f.srv.URL+"/main/list.json", &list)
	if len(list.PackageNames) != 2 {
		t.Errorf("expected 2 packages, got %v", list.PackageNames)
	}

	var search struct {
		Results []searchResult `json:"results"`
		Total   int            `json:"total"`
	}
	getJSON(t, f.srv.URL+"/main/search.json?q=acme/", &search)
	if search.Total != 1 || search.Results[0].Name != "acme/widget" {
		t.Errorf("unexpected search results: %+v", search)
	}
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	archive := map[string]string{"composer.json": `{"name":"acme/widget"}`}
	f.upload(t, "1.0.0", archive)

	resp, err := http.Get(f.srv.URL + "/main/dist/acme/widget/1.0.0.zip")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("expected application/zip, got %s", ct)
	}

	pkg, err := f.store.FindPackage(context.Background(), f.repo.ID, "acme/widget")
	if err != nil {
		t.Fatalf("FindPackage failed: %v", err)
	}
	if pkg.Downloads != 1 {
		t.Errorf("expected download counter 1, got %d", pkg.Downloads)
	}
}

func TestDownloadUnknownVersion(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "1.0.0", map[string]string{"composer.json": `{"name":"acme/widget"}`})

	resp := getJSON(t, f.srv.URL+"/main/dist/acme/widget/9.9.9.zip", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUploadInvalidArchive(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/main/upload?version=1.0.0", "application/zip", bytes.NewReader([]byte("not a zip")))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func signGitea(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) registerWidget(t *testing.T) {
	t.Helper()
	body := `{"provider":"gitea","url":"https://git.example.com","token":"t","project_id":"1","full_name":"acme/widget"}`
	resp, err := http.Post(f.srv.URL+"/main/register", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
}

func TestRegisterSetsCallbackURL(t *testing.T) {
	f := newFixture(t)
	f.registerWidget(t)

	if len(f.client.hookCalls) != 1 {
		t.Fatalf("expected one webhook registration, got %d", len(f.client.hookCalls))
	}
	hook := f.client.hookCalls[0]
	if want := "https://depot.example.com/main/incoming/gitea"; hook.CallbackURL != want {
		t.Errorf("expected callback %s, got %s", want, hook.CallbackURL)
	}
	if hook.Secret != testSecret {
		t.Errorf("expected shared secret on hook, got %q", hook.Secret)
	}
}

func TestWebhookImportsVersion(t *testing.T) {
	f := newFixture(t)
	f.registerWidget(t)
	f.client.archive = makeZip(t, map[string]string{"composer.json": `{"name":"acme/widget"}`})

	payload := []byte(`{"ref":"refs/heads/main","after":"abc123","repository":{"id":1,"full_name":"acme/widget"}}`)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/main/incoming/gitea", bytes.NewReader(payload))
	req.Header.Set("X-Gitea-Signature", signGitea(payload))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook returned %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["version"] != "dev-main" {
		t.Errorf("expected dev-main, got %s", out["version"])
	}
}

func TestWebhookBadSignature(t *testing.T) {
	f := newFixture(t)
	f.registerWidget(t)

	payload := []byte(`{"ref":"refs/heads/main","after":"abc","repository":{"id":1,"full_name":"acme/widget"}}`)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/main/incoming/gitea", bytes.NewReader(payload))
	req.Header.Set("X-Gitea-Signature", "deadbeef")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebhookUnknownPackageIs422(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"ref":"refs/heads/main","after":"abc","repository":{"id":9,"full_name":"nobody/knows"}}`)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/main/incoming/gitea", bytes.NewReader(payload))
	req.Header.Set("X-Gitea-Signature", signGitea(payload))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestWebhookUnrecognizedPayload(t *testing.T) {
	f := newFixture(t)

	payload := []byte(`{"zen":"design for failure"}`)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/main/incoming/gitea", bytes.NewReader(payload))
	req.Header.Set("X-Gitea-Signature", signGitea(payload))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestGitLabWebhookToken(t *testing.T) {
	f := newFixture(t)
	f.registerGitLabWidget(t)
	f.client.archive = makeZip(t, map[string]string{"composer.json": `{"name":"acme/widget"}`})

	payload := []byte(`{"object_kind":"push","ref":"refs/heads/main","after":"abc","project":{"id":1,"path_with_namespace":"acme/widget"}}`)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/main/incoming/gitlab", bytes.NewReader(payload))
	req.Header.Set("X-Gitlab-Token", testSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func (f *fixture) registerGitLabWidget(t *testing.T) {
	t.Helper()
	body := `{"provider":"gitlab","url":"https://gitlab.example.com","token":"t","project_id":"1","full_name":"acme/widget"}`
	resp, err := http.Post(f.srv.URL+"/main/register", "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerWidget(t)
	f.client.archive = makeZip(t, map[string]string{"composer.json": `{"name":"acme/widget"}`})
	f.client.branches = []source.Branch{{Name: "main", ZipURL: "https://git.example.com/main.zip"}}

	resp, err := http.Post(f.srv.URL+"/main/sync/acme/widget", "application/json", nil)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync returned %d", resp.StatusCode)
	}

	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["imported"] != 1 {
		t.Errorf("expected 1 imported version, got %d", out["imported"])
	}
}

func TestProjectsEndpoint(t *testing.T) {
	f := newFixture(t)

	var out struct {
		Projects []source.Project `json:"projects"`
	}
	resp := getJSON(t, f.srv.URL+"/main/projects?provider=gitea&url=https://git.example.com&token=t", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("projects returned %d", resp.StatusCode)
	}
	if len(out.Projects) != 1 || out.Projects[0].FullName != "acme/widget" {
		t.Errorf("unexpected projects: %+v", out.Projects)
	}
}
