package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kurihiro0119/gitlab-inventory/internal/classify"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/gitlab"
)

// DiscoverGroups walks the group hierarchy breadth-first. Nodes are kept in an
// arena slice indexed by discovery order; the slice doubles as the work queue,
// so nesting depth never grows the call stack.
func (c *gitlabCollector) DiscoverGroups(ctx context.Context) ([]domain.GroupNode, error) {
	roots, err := c.rootGroups(ctx)
	if err != nil {
		return nil, err
	}

	var nodes []domain.GroupNode
	index := make(map[int]int)

	add := func(g gitlab.Group, parent *domain.GroupNode) {
		if _, seen := index[g.ID]; seen {
			return
		}
		node := toGroupNode(g)
		if parent != nil {
			node.ParentID = parent.ID
			node.ParentPath = parent.FullPath
			node.Depth = parent.Depth + 1
		}
		index[g.ID] = len(nodes)
		nodes = append(nodes, node)
	}

	for _, g := range roots {
		add(g, nil)
	}

	params := url.Values{}
	params.Set("statistics", "true")
	params.Set("all_available", "true")

	for i := 0; i < len(nodes); i++ {
		parent := nodes[i]
		subgroups, _, err := gitlab.ListAll[gitlab.Group](ctx, c.client,
			gitlab.GroupPath(strconv.Itoa(parent.ID), "/subgroups"), params, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping subgroups of group", "group", parent.FullPath, "error", err)
			continue
		}
		for _, sg := range subgroups {
			add(sg, &parent)
		}
	}

	c.logger.Info("discovered groups", "count", len(nodes))
	return nodes, nil
}

// rootGroups returns the starting points of the walk: the configured root
// group, or every member group whose parent is not itself in the listing.
func (c *gitlabCollector) rootGroups(ctx context.Context) ([]gitlab.Group, error) {
	if c.opts.RootGroup != "" {
		var g gitlab.Group
		if err := c.client.GetSingle(ctx, gitlab.GroupPath(c.opts.RootGroup, ""), nil, &g); err != nil {
			return nil, fmt.Errorf("failed to get root group %s: %w", c.opts.RootGroup, err)
		}
		return []gitlab.Group{g}, nil
	}

	// Without all_available GitLab lists the groups the token is a member of.
	params := url.Values{}
	params.Set("statistics", "true")

	groups, _, err := gitlab.ListAll[gitlab.Group](ctx, c.client, "/groups", params, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	visible := make(map[int]bool, len(groups))
	for _, g := range groups {
		visible[g.ID] = true
	}

	var roots []gitlab.Group
	for _, g := range groups {
		if g.ParentID == nil || !visible[*g.ParentID] {
			roots = append(roots, g)
		}
	}
	return roots, nil
}

// DiscoverProjects lists the projects owned directly by a group. Items that
// fail to decode are skipped.
func (c *gitlabCollector) DiscoverProjects(ctx context.Context, group domain.GroupNode) ([]domain.ProjectRef, error) {
	params := url.Values{}
	params.Set("include_subgroups", "false")
	params.Set("with_shared", "false")
	params.Set("statistics", "true")

	var refs []domain.ProjectRef
	_, err := c.client.Each(ctx, gitlab.GroupPath(strconv.Itoa(group.ID), "/projects"), params, 0,
		func(item json.RawMessage) error {
			var p gitlab.Project
			if err := json.Unmarshal(item, &p); err != nil {
				c.logger.Warn("skipping malformed project entry", "group", group.FullPath, "error", err)
				return nil
			}
			refs = append(refs, toProjectRef(p, group))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects of %s: %w", group.FullPath, err)
	}
	return refs, nil
}

// discoverAllProjects lists the projects of every group in walk order. A
// project reachable from several groups is kept once, under the first group.
func (c *gitlabCollector) discoverAllProjects(ctx context.Context, groups []domain.GroupNode) ([]domain.ProjectRef, error) {
	seen := make(map[int]bool)
	var all []domain.ProjectRef

	for _, g := range groups {
		refs, err := c.DiscoverProjects(ctx, g)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping group projects", "group", g.FullPath, "error", err)
			continue
		}
		for _, ref := range refs {
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			all = append(all, ref)
		}
	}

	c.logger.Info("discovered projects", "count", len(all), "groups", len(groups))
	return all, nil
}

// DescribeGroup gathers the counters of the group report. Failed counts stay at
// zero and are noted.
func (c *gitlabCollector) DescribeGroup(ctx context.Context, group domain.GroupNode) domain.GroupDetails {
	details := domain.GroupDetails{
		Group:            group,
		StorageSizeMB:    classify.BytesToMB(group.StorageSize),
		RepositorySizeMB: classify.BytesToMB(group.RepositorySize),
	}
	ref := strconv.Itoa(group.ID)

	count := func(name, path string, params url.Values) int {
		n, known, err := c.client.Count(ctx, gitlab.GroupPath(ref, path), params)
		if err != nil {
			details.Notes = append(details.Notes, name+": "+reasonOf(err))
			return 0
		}
		if !known {
			details.Notes = append(details.Notes, name+": total not reported")
		}
		return n
	}

	withSubgroups := url.Values{}
	withSubgroups.Set("include_subgroups", "true")

	details.ProjectCount = count("projects", "/projects", withSubgroups)
	details.SubgroupCount = count("subgroups", "/subgroups", nil)
	details.MemberCount = count("members", "/members", nil)
	return details
}

func toGroupNode(g gitlab.Group) domain.GroupNode {
	node := domain.GroupNode{
		ID:          g.ID,
		Name:        g.Name,
		Path:        g.Path,
		FullPath:    g.FullPath,
		Description: g.Description,
		Visibility:  g.Visibility,
		WebURL:      g.WebURL,
	}
	if g.ParentID != nil {
		node.ParentID = *g.ParentID
	}
	if g.CreatedAt != nil {
		node.CreatedAt = *g.CreatedAt
	}
	if g.Statistics != nil {
		node.StorageSize = g.Statistics.StorageSize
		node.RepositorySize = g.Statistics.RepositorySize
	}
	return node
}

func toProjectRef(p gitlab.Project, group domain.GroupNode) domain.ProjectRef {
	ref := domain.ProjectRef{
		ID:                p.ID,
		Name:              p.Name,
		Path:              p.Path,
		PathWithNamespace: p.PathWithNamespace,
		GroupID:           group.ID,
		GroupName:         group.Name,
		GroupPath:         group.FullPath,
		Visibility:        p.Visibility,
		Archived:          p.Archived,
		WebURL:            p.WebURL,
		DefaultBranch:     p.DefaultBranch,
		CIConfigPath:      p.CIConfigPath,
		Listing: domain.ProjectListing{
			Stars:      p.StarCount,
			Forks:      p.ForksCount,
			OpenIssues: p.OpenIssuesCount,
		},
	}
	if p.CreatedAt != nil {
		ref.CreatedAt = *p.CreatedAt
	}
	if p.LastActivityAt != nil {
		ref.Listing.LastActivityAt = *p.LastActivityAt
	}
	if p.Statistics != nil {
		ref.Listing.RepositorySize = p.Statistics.RepositorySize
		ref.Listing.StorageSize = p.Statistics.StorageSize
		ref.Listing.CommitCount = p.Statistics.CommitCount
	}
	return ref
}

// reasonOf turns a sub-step error into the short text stored in notes.
func reasonOf(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeTimeout:
		return "timeout"
	case apperrors.ErrCodeRemoteUnavailable:
		return "remote unavailable"
	case apperrors.ErrCodeNotFound:
		return "not found"
	case apperrors.ErrCodeAuthFailure:
		return "access denied"
	case apperrors.ErrCodeMalformedResponse:
		return "malformed response"
	}
	return err.Error()
}
