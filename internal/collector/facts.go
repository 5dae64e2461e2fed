package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/gitlab"
)

// LargeFileThreshold is the blob size above which a repository is flagged (100 MiB).
const LargeFileThreshold int64 = 100 * 1024 * 1024

const maxContributorPages = 50

// pipelineFiles are the CI configuration locations GitLab recognises by convention.
var pipelineFiles = []string{
	".gitlab-ci.yml",
	".gitlab-ci.yaml",
	"gitlab-ci.yml",
	"gitlab-ci.yaml",
	".gitlab/ci.yml",
	".gitlab/ci.yaml",
}

// largeFileExtensions are worth a HEAD probe when the tree listing carries no size.
var largeFileExtensions = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".iso": true, ".dmg": true, ".exe": true,
	".deb": true, ".rpm": true, ".pkg": true, ".msi": true, ".war": true, ".ear": true,
	".jar": true, ".pdf": true, ".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".mp3": true, ".wav": true, ".flac": true,
}

// Step is the outcome of one fact-collection sub-step: either a value or the
// reason it was skipped.
type Step[T any] struct {
	Value  T
	Reason string
	Err    error
}

// Ok wraps a successful sub-step value.
func Ok[T any](v T) Step[T] {
	return Step[T]{Value: v}
}

// Skipped records a sub-step that produced no value. err may be nil when the
// step was skipped for a non-error reason.
func Skipped[T any](reason string, err error) Step[T] {
	if reason == "" && err != nil {
		reason = reasonOf(err)
	}
	if reason == "" {
		reason = "skipped"
	}
	return Step[T]{Reason: reason, Err: err}
}

// OK reports whether the step produced a value.
func (s Step[T]) OK() bool {
	return s.Reason == ""
}

// merge applies a step to the facts: set on success, otherwise a note and,
// for failures that make the row unreliable, the degraded marker.
func merge[T any](f *domain.ProjectFacts, name string, s Step[T], set func(T)) {
	if s.OK() {
		set(s.Value)
		return
	}
	f.Notes = append(f.Notes, name+": "+s.Reason)
	if degrades(s.Err) {
		f.Degraded = true
	}
}

// degrades reports whether a sub-step error should turn the record status to error.
// Missing resources and undecodable payloads only cost that one field.
func degrades(err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeMalformedResponse, apperrors.ErrCodeBadRequest:
		return false
	}
	return true
}

// CollectProject runs every sub-step for one project. Each step is independent:
// a failure leaves that field at its sentinel and the remaining steps still run.
func (c *gitlabCollector) CollectProject(ctx context.Context, ref domain.ProjectRef) domain.ProjectFacts {
	f := domain.ProjectFacts{
		ProjectID:           ref.ID,
		Stars:               ref.Listing.Stars,
		Forks:               ref.Listing.Forks,
		OpenIssues:          ref.Listing.OpenIssues,
		LastActivityAt:      ref.Listing.LastActivityAt,
		RepositorySizeBytes: ref.Listing.RepositorySize,
		StorageSizeBytes:    ref.Listing.StorageSize,
	}

	defaultBranch := ref.DefaultBranch
	ciConfigPath := ref.CIConfigPath
	statsCommits := ref.Listing.CommitCount

	detail := c.fetchProject(ctx, ref.ID)
	merge(&f, "project", detail, func(p gitlab.Project) {
		f.Stars = p.StarCount
		f.Forks = p.ForksCount
		f.OpenIssues = p.OpenIssuesCount
		if p.LastActivityAt != nil {
			f.LastActivityAt = *p.LastActivityAt
		}
		if p.Statistics != nil {
			f.RepositorySizeBytes = p.Statistics.RepositorySize
			f.StorageSizeBytes = p.Statistics.StorageSize
			statsCommits = p.Statistics.CommitCount
		}
		if p.DefaultBranch != "" {
			defaultBranch = p.DefaultBranch
		}
		if p.CIConfigPath != "" {
			ciConfigPath = p.CIConfigPath
		}
	})
	if !detail.OK() && detail.Err != nil && !apperrors.IsMalformedResponse(detail.Err) {
		f.Degraded = true
	}

	branches := c.listBranches(ctx, ref.ID)
	merge(&f, "branches", branches, func(b branchList) {
		f.BranchCount = b.total
		if b.capped {
			f.Notes = append(f.Notes, fmt.Sprintf("branches: total not reported, counted %d", b.total))
		}
	})

	merge(&f, "commits", c.countCommits(ctx, ref.ID, defaultBranch, statsCommits), func(n int) {
		f.TotalCommits = n
	})

	var defaultTree *treeScan
	if defaultBranch == "" {
		f.Notes = append(f.Notes, "tree: empty repository")
	} else {
		merge(&f, "tree", c.scanTree(ctx, ref.ID, defaultBranch, c.opts.MaxTreePages, true), func(t *treeScan) {
			defaultTree = t
			f.FileCount = t.fileCount()
			if t.truncated {
				f.Notes = append(f.Notes, fmt.Sprintf("tree: file count estimated from %d of %d pages", t.pages, t.totalPages))
			}
		})
	}

	largeFile := defaultTree != nil && defaultTree.largeFile
	var unsized []fileRef
	if defaultTree != nil {
		unsized = append(unsized, defaultTree.unsized...)
	}

	switch {
	case defaultBranch == "":
	case !branches.OK():
		f.Notes = append(f.Notes, "all_branches: branch listing unavailable")
	default:
		merge(&f, "all_branches", c.scanBranches(ctx, ref.ID, branches.Value.names, defaultBranch, defaultTree), func(s branchScan) {
			f.AllBranchesFileCount = s.files
			largeFile = largeFile || s.largeFile
			unsized = append(unsized, s.unsized...)
			f.Notes = append(f.Notes, s.notes...)
		})
	}

	if !largeFile && len(unsized) > 0 {
		largeFile = c.probeLargeFiles(ctx, ref.ID, unsized)
	}
	f.HasLargeFile = largeFile

	merge(&f, "pipeline", c.detectPipeline(ctx, ref.ID, defaultBranch, ciConfigPath, defaultTree), func(ok bool) {
		f.HasPipeline = ok
	})

	merge(&f, "contributors", c.countContributors(ctx, ref.ID), func(cc contributorCount) {
		f.Contributors = cc.distinct
		if cc.truncated {
			f.Notes = append(f.Notes, fmt.Sprintf("contributors: counted from the first %d pages", cc.pages))
		}
	})

	mrParams := url.Values{}
	mrParams.Set("state", "all")
	merge(&f, "merge_requests", c.count(ctx, gitlab.ProjectPath(ref.ID, "/merge_requests"), mrParams), func(n int) {
		f.MergeRequests = n
	})

	merge(&f, "tags", c.count(ctx, gitlab.ProjectPath(ref.ID, "/repository/tags"), nil), func(n int) {
		f.TagCount = n
	})

	return f
}

func (c *gitlabCollector) fetchProject(ctx context.Context, id int) Step[gitlab.Project] {
	params := url.Values{}
	params.Set("statistics", "true")

	var p gitlab.Project
	if err := c.client.GetSingle(ctx, gitlab.ProjectPath(id, ""), params, &p); err != nil {
		return Skipped[gitlab.Project]("", err)
	}
	return Ok(p)
}

type branchList struct {
	total int
	names []string
	// capped is set when GitLab reported no total and the walk stopped at MaxBranches
	capped bool
}

// listBranches reads the branch total from X-Total and keeps the names of the
// first MaxBranches branches for the cross-branch scan.
func (c *gitlabCollector) listBranches(ctx context.Context, id int) Step[branchList] {
	perPage := min(c.opts.MaxBranches, 100)
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(perPage))

	var out branchList
	info, err := c.client.Each(ctx, gitlab.ProjectPath(id, "/repository/branches"), params, 0,
		func(item json.RawMessage) error {
			var b gitlab.Branch
			if err := json.Unmarshal(item, &b); err != nil {
				return apperrors.NewMalformedResponseError("decode branch", err)
			}
			out.names = append(out.names, b.Name)
			if len(out.names) >= c.opts.MaxBranches {
				return errEnough
			}
			return nil
		})
	stopped := errors.Is(err, errEnough)
	if err != nil && !stopped {
		return Skipped[branchList]("", err)
	}

	out.total = info.Total
	if out.total < 0 {
		out.total = len(out.names)
		out.capped = stopped
	}
	return Ok(out)
}

// errEnough stops a list walk once the caller has what it needs.
var errEnough = errors.New("enough items")

// countCommits uses the pagination total of the commit list; GitLab omits it
// for very long histories, in which case the statistics commit count is used.
func (c *gitlabCollector) countCommits(ctx context.Context, id int, ref string, statsCommits int) Step[int] {
	params := url.Values{}
	if ref != "" {
		params.Set("ref_name", ref)
	}
	n, known, err := c.client.Count(ctx, gitlab.ProjectPath(id, "/repository/commits"), params)
	if err != nil {
		return Skipped[int]("", err)
	}
	if known {
		return Ok(n)
	}
	if statsCommits > 0 {
		return Ok(statsCommits)
	}
	return Skipped[int]("total not reported", nil)
}

func (c *gitlabCollector) count(ctx context.Context, apiPath string, params url.Values) Step[int] {
	n, known, err := c.client.Count(ctx, apiPath, params)
	if err != nil {
		return Skipped[int]("", err)
	}
	if !known {
		return Skipped[int]("total not reported", nil)
	}
	return Ok(n)
}

type contributorCount struct {
	distinct  int
	pages     int
	truncated bool
}

func (c *gitlabCollector) countContributors(ctx context.Context, id int) Step[contributorCount] {
	contributors, info, err := gitlab.ListAll[gitlab.Contributor](ctx, c.client,
		gitlab.ProjectPath(id, "/repository/contributors"), nil, maxContributorPages)
	if err != nil {
		return Skipped[contributorCount]("", err)
	}

	distinct := make(map[string]struct{}, len(contributors))
	for _, ct := range contributors {
		key := strings.ToLower(strings.TrimSpace(ct.Email))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(ct.Name))
		}
		if key != "" {
			distinct[key] = struct{}{}
		}
	}
	return Ok(contributorCount{distinct: len(distinct), pages: info.Pages, truncated: info.Truncated})
}

type fileRef struct {
	ref  string
	path string
}

type treeScan struct {
	paths      map[string]struct{}
	files      int
	pages      int
	totalPages int
	truncated  bool
	largeFile  bool
	unsized    []fileRef
}

// fileCount returns the blob count, extrapolated when the listing was capped
// and GitLab reported the total page count.
func (t *treeScan) fileCount() int {
	if t.truncated && t.totalPages > t.pages && t.pages > 0 {
		return t.files * t.totalPages / t.pages
	}
	return t.files
}

// scanTree lists a branch tree recursively, counting blobs and flagging large
// files from the sizes reported in the listing.
func (c *gitlabCollector) scanTree(ctx context.Context, id int, ref string, maxPages int, keepPaths bool) Step[*treeScan] {
	params := url.Values{}
	params.Set("recursive", "true")
	params.Set("ref", ref)

	scan := &treeScan{paths: make(map[string]struct{})}
	info, err := c.client.Each(ctx, gitlab.ProjectPath(id, "/repository/tree"), params, maxPages,
		func(item json.RawMessage) error {
			var e gitlab.TreeEntry
			if err := json.Unmarshal(item, &e); err != nil || !e.IsBlob() || e.Path == "" {
				return nil
			}
			scan.files++
			scan.paths[e.Path] = struct{}{}
			switch {
			case e.Size != nil:
				if *e.Size > LargeFileThreshold {
					scan.largeFile = true
				}
			case largeFileExtensions[strings.ToLower(path.Ext(e.Path))]:
				scan.unsized = append(scan.unsized, fileRef{ref: ref, path: e.Path})
			}
			return nil
		})
	if err != nil {
		return Skipped[*treeScan]("", err)
	}

	scan.pages = info.Pages
	scan.totalPages = info.TotalPages
	scan.truncated = info.Truncated
	if !keepPaths {
		scan.paths = nil
	}
	return Ok(scan)
}

type branchScan struct {
	files     int
	largeFile bool
	unsized   []fileRef
	notes     []string
}

// scanBranches counts the union of file paths across the given branches. The
// default branch tree, when already scanned, is reused.
func (c *gitlabCollector) scanBranches(ctx context.Context, id int, branches []string, defaultBranch string, defaultTree *treeScan) Step[branchScan] {
	union := make(map[string]struct{})
	var out branchScan
	var lastErr error
	failed := 0

	for _, name := range branches {
		var scan *treeScan
		if name == defaultBranch && defaultTree != nil {
			scan = defaultTree
		} else {
			s := c.scanTree(ctx, id, name, c.opts.MaxBranchTreePages, true)
			if !s.OK() {
				failed++
				lastErr = s.Err
				continue
			}
			scan = s.Value
		}
		for p := range scan.paths {
			union[p] = struct{}{}
		}
		out.largeFile = out.largeFile || scan.largeFile
		if scan != defaultTree {
			out.unsized = append(out.unsized, scan.unsized...)
		}
	}

	if len(branches) > 0 && failed == len(branches) {
		return Skipped[branchScan]("", lastErr)
	}
	if failed > 0 {
		out.notes = append(out.notes, fmt.Sprintf("all_branches: %d of %d branches unreadable", failed, len(branches)))
	}
	out.files = len(union)
	return Ok(out)
}

// probeLargeFiles sizes files the tree listing left unsized via the
// X-Gitlab-Size header of a HEAD request on the file.
func (c *gitlabCollector) probeLargeFiles(ctx context.Context, id int, candidates []fileRef) bool {
	seen := make(map[string]bool)
	probes := 0
	for _, cand := range candidates {
		if probes >= c.opts.MaxLargeFileProbes {
			break
		}
		if seen[cand.path] {
			continue
		}
		seen[cand.path] = true
		probes++

		params := url.Values{}
		params.Set("ref", cand.ref)
		h, err := c.client.Head(ctx, gitlab.FilePath(id, cand.path), params)
		if err != nil {
			c.logger.Debug("large file probe failed", "project", id, "path", cand.path, "error", err)
			continue
		}
		size, err := strconv.ParseInt(h.Get("X-Gitlab-Size"), 10, 64)
		if err == nil && size > LargeFileThreshold {
			return true
		}
	}
	return false
}

// detectPipeline looks for a CI configuration file in the default branch. The
// tree listing decides when it is complete; otherwise the candidates are probed.
func (c *gitlabCollector) detectPipeline(ctx context.Context, id int, defaultBranch, ciConfigPath string, tree *treeScan) Step[bool] {
	if defaultBranch == "" {
		return Ok(false)
	}

	candidates := pipelineFiles
	if ciConfigPath != "" && !strings.Contains(ciConfigPath, "@") {
		candidates = append([]string{ciConfigPath}, pipelineFiles...)
	}

	if tree != nil {
		for _, p := range candidates {
			if _, ok := tree.paths[p]; ok {
				return Ok(true)
			}
		}
		if !tree.truncated {
			return Ok(false)
		}
	}

	params := url.Values{}
	params.Set("ref", defaultBranch)
	var lastErr error
	for _, p := range candidates {
		_, err := c.client.Head(ctx, gitlab.FilePath(id, p), params)
		if err == nil {
			return Ok(true)
		}
		if !apperrors.IsNotFound(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return Skipped[bool]("", lastErr)
	}
	return Ok(false)
}
