package collector_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kurihiro0119/gitlab-inventory/internal/gitlab"
)

// route is one canned endpoint of the fake GitLab API.
type route struct {
	status  int
	object  any
	items   []any
	noTotal bool
	header  map[string]string
}

// fakeGitLab serves canned GitLab v4 responses with offset pagination headers
// and records the time of every request.
type fakeGitLab struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	routes  map[string]route
	hits    map[string]int
	queries map[string][]url.Values
	times   []time.Time
}

func newFakeGitLab(t *testing.T) *fakeGitLab {
	t.Helper()
	f := &fakeGitLab{
		t:       t,
		routes:  make(map[string]route),
		hits:    make(map[string]int),
		queries: make(map[string][]url.Values),
	}
	f.object("GET", "/user", map[string]any{"id": 1, "username": "inventory-bot"})
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitLab) client(t *testing.T, opts ...gitlab.Option) *gitlab.Client {
	t.Helper()
	opts = append([]gitlab.Option{gitlab.WithRetry(1, time.Millisecond)}, opts...)
	c, err := gitlab.NewClient(f.srv.URL, "glpat-test", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (f *fakeGitLab) set(method, p string, r route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+p] = r
}

func (f *fakeGitLab) object(method, p string, obj any) {
	f.set(method, p, route{object: obj})
}

func (f *fakeGitLab) list(p string, items ...any) {
	if items == nil {
		items = []any{}
	}
	f.set("GET", p, route{items: items})
}

func (f *fakeGitLab) fail(method, p string, status int) {
	f.set(method, p, route{status: status})
}

func (f *fakeGitLab) hitCount(method, p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+p]
}

// queriesOf returns the query of every request made to an endpoint.
func (f *fakeGitLab) queriesOf(method, p string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.queries[method+" "+p]...)
}

func (f *fakeGitLab) requestTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

func (f *fakeGitLab) serve(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v4")
	key := r.Method + " " + p

	f.mu.Lock()
	f.times = append(f.times, time.Now())
	f.hits[key]++
	f.queries[key] = append(f.queries[key], r.URL.Query())
	rt, ok := f.routes[key]
	f.mu.Unlock()

	if r.Header.Get("PRIVATE-TOKEN") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"404 Not Found"}`)
		return
	}
	for k, v := range rt.header {
		w.Header().Set(k, v)
	}
	if rt.status != 0 && rt.status != http.StatusOK {
		w.WriteHeader(rt.status)
		return
	}
	if rt.items == nil {
		if r.Method != http.MethodHead {
			json.NewEncoder(w).Encode(rt.object)
		}
		return
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	totalPages := (len(rt.items) + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	lo := min((page-1)*perPage, len(rt.items))
	hi := min(lo+perPage, len(rt.items))

	if !rt.noTotal {
		w.Header().Set("X-Total", strconv.Itoa(len(rt.items)))
		w.Header().Set("X-Total-Pages", strconv.Itoa(totalPages))
	}
	if page < totalPages {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	}
	json.NewEncoder(w).Encode(rt.items[lo:hi])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeGroup struct {
	id       int
	name     string
	fullPath string
	parentID int
}

func (g fakeGroup) json() map[string]any {
	m := map[string]any{
		"id":         g.id,
		"name":       g.name,
		"path":       path.Base(g.fullPath),
		"full_path":  g.fullPath,
		"visibility": "private",
		"web_url":    "https://gitlab.example.com/groups/" + g.fullPath,
		"created_at": "2020-01-02T03:04:05Z",
		"statistics": map[string]any{"storage_size": 2 * 1024 * 1024, "repository_size": 1024 * 1024},
	}
	if g.parentID != 0 {
		m["parent_id"] = g.parentID
	} else {
		m["parent_id"] = nil
	}
	return m
}

type fakeFile struct {
	path string
	size int64 // -1 leaves the size out of the listing
}

type fakeProject struct {
	id           int
	name         string
	namespace    string
	archived     bool
	repoSize     int64
	storageSize  int64
	commits      int
	branches     []string
	files        []fakeFile
	contributors []gitlab.Contributor
	mergeReqs    int
	tags         int
}

func (p fakeProject) prefix() string {
	return "/projects/" + strconv.Itoa(p.id)
}

func (p fakeProject) json() map[string]any {
	defaultBranch := ""
	if len(p.branches) > 0 {
		defaultBranch = p.branches[0]
	}
	return map[string]any{
		"id":                  p.id,
		"name":                p.name,
		"path":                p.name,
		"path_with_namespace": p.namespace + "/" + p.name,
		"visibility":          "internal",
		"archived":            p.archived,
		"web_url":             "https://gitlab.example.com/" + p.namespace + "/" + p.name,
		"created_at":          "2021-05-06T07:08:09Z",
		"last_activity_at":    "2024-02-03T04:05:06Z",
		"default_branch":      defaultBranch,
		"star_count":          3,
		"forks_count":         1,
		"open_issues_count":   4,
		"statistics": map[string]any{
			"commit_count":    p.commits,
			"storage_size":    p.storageSize,
			"repository_size": p.repoSize,
		},
	}
}

// addGroup registers a group, its projects and the endpoints every project
// sub-step calls.
func (f *fakeGitLab) addGroup(g fakeGroup, subgroups []fakeGroup, projects ...fakeProject) {
	var sub []any
	for _, sg := range subgroups {
		sub = append(sub, sg.json())
	}
	f.list("/groups/"+strconv.Itoa(g.id)+"/subgroups", sub...)

	var listed []any
	for _, p := range projects {
		listed = append(listed, p.json())
		f.addProject(p)
	}
	f.list("/groups/"+strconv.Itoa(g.id)+"/projects", listed...)
	f.list("/groups/"+strconv.Itoa(g.id)+"/members", map[string]any{"id": 1}, map[string]any{"id": 2})
}

func (f *fakeGitLab) addProject(p fakeProject) {
	pre := p.prefix()
	f.object("GET", pre, p.json())

	var branches []any
	for i, b := range p.branches {
		branches = append(branches, map[string]any{"name": b, "default": i == 0})
	}
	f.list(pre+"/repository/branches", branches...)

	commits := make([]any, p.commits)
	for i := range commits {
		commits[i] = map[string]any{"id": fmt.Sprintf("%040d", i)}
	}
	f.list(pre+"/repository/commits", commits...)

	var tree []any
	for _, file := range p.files {
		entry := map[string]any{
			"id":   "blob-" + file.path,
			"name": path.Base(file.path),
			"type": "blob",
			"path": file.path,
			"mode": "100644",
		}
		if file.size >= 0 {
			entry["size"] = file.size
		}
		tree = append(tree, entry)
	}
	if len(p.branches) > 0 {
		f.list(pre+"/repository/tree", tree...)
	}

	var contributors []any
	for _, c := range p.contributors {
		contributors = append(contributors, map[string]any{"name": c.Name, "email": c.Email, "commits": c.Commits})
	}
	f.list(pre+"/repository/contributors", contributors...)

	mrs := make([]any, p.mergeReqs)
	for i := range mrs {
		mrs[i] = map[string]any{"iid": i + 1}
	}
	f.list(pre+"/merge_requests", mrs...)

	tags := make([]any, p.tags)
	for i := range tags {
		tags[i] = map[string]any{"name": fmt.Sprintf("v%d", i)}
	}
	f.list(pre+"/repository/tags", tags...)
}

// setGroups registers the /groups listing used to find root groups.
func (f *fakeGitLab) setGroups(groups ...fakeGroup) {
	var items []any
	for _, g := range groups {
		items = append(items, g.json())
	}
	f.list("/groups", items...)
	for _, g := range groups {
		f.object("GET", "/groups/"+strconv.Itoa(g.id), g.json())
	}
}
