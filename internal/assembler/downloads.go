package assembler

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/github"
)

const (
	bundleZipSuffix = ".bundle.zip"
	zipSuffix       = ".zip"
	zipballKey      = "zipball"
)

func (a *Assembler) releaseDownloads(ctx context.Context, repo github.Repo) []catalog.Download {
	ctx, span := a.tracer.Start(ctx, "releases")
	defer span.End()
	releases, err := a.api.Releases(ctx, repo)
	if err != nil {
		a.warn.Warnf(ContextReleases, "Unable to list releases for %s/%s: %v", repo.Owner, repo.Name, err)
		return nil
	}
	out := make([]catalog.Download, 0, len(releases))
	for _, rel := range releases {
		if rel.Draft {
			continue
		}
		out = append(out, releaseDownload(rel))
	}
	return out
}

func releaseDownload(rel github.Release) catalog.Download {
	assets := make(map[string]string, len(rel.Assets)+1)
	for _, asset := range rel.Assets {
		if strings.HasSuffix(strings.ToLower(asset.Name), zipSuffix) {
			assets[asset.Name] = asset.BrowserDownloadURL
		}
	}
	assets[zipballKey] = rel.ZipballURL

	name := rel.TagName
	if rel.Name != nil && *rel.Name != "" {
		name = *rel.Name
	}
	date := ""
	if rel.PublishedAt != nil {
		date = *rel.PublishedAt
	}
	prerelease := rel.Prerelease
	return catalog.Download{
		Type:           catalog.DownloadRelease,
		Date:           date,
		Name:           name,
		ReleaseTag:     rel.TagName,
		Prerelease:     &prerelease,
		BundleURL:      SelectBundle(rel),
		DownloadAssets: assets,
	}
}

// SelectBundle picks the download for a release: an asset ending in
// .bundle.zip, then the first zip asset, then the source zipball.
func SelectBundle(rel github.Release) string {
	for _, asset := range rel.Assets {
		if strings.HasSuffix(strings.ToLower(asset.Name), bundleZipSuffix) {
			return asset.BrowserDownloadURL
		}
	}
	for _, asset := range rel.Assets {
		if strings.HasSuffix(strings.ToLower(asset.Name), zipSuffix) {
			return asset.BrowserDownloadURL
		}
	}
	return rel.ZipballURL
}

func (a *Assembler) branchDownloads(ctx context.Context, repo github.Repo, defaultBranch string) []catalog.Download {
	ctx, span := a.tracer.Start(ctx, "branches")
	defer span.End()
	branches, err := a.api.Branches(ctx, repo)
	if err != nil {
		a.warn.Warnf(ContextBranches, "Unable to list branches for %s/%s: %v", repo.Owner, repo.Name, err)
		return nil
	}
	out := make([]catalog.Download, 0, len(branches))
	for _, branch := range branches {
		date := ""
		commit, err := a.api.Commit(ctx, repo, branch.Commit.SHA)
		if err != nil {
			a.warn.Warnf(ContextBranches, "Unable to fetch commit %s of %s/%s: %v",
				branch.Commit.SHA, repo.Owner, repo.Name, err)
		} else {
			date = commit.AuthorDate()
		}
		archive := a.archiveURL(repo, branch.Name)
		isDefault := branch.Name == defaultBranch
		out = append(out, catalog.Download{
			Type:           catalog.DownloadBranch,
			Date:           date,
			Name:           branch.Name,
			CommitSHA:      branch.Commit.SHA,
			DefaultBranch:  &isDefault,
			BundleURL:      archive,
			DownloadAssets: map[string]string{zipballKey: archive},
		})
	}
	return out
}

func (a *Assembler) archiveURL(repo github.Repo, branch string) string {
	segments := strings.Split(branch, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip",
		a.cfg.SiteURL, repo.Owner, repo.Name, strings.Join(segments, "/"))
}

// sortDownloads orders the timeline newest first. Undated entries go last and
// ties sort by name.
func sortDownloads(downloads []catalog.Download) {
	parsed := make(map[int]time.Time, len(downloads))
	for i := range downloads {
		if t, err := time.Parse(time.RFC3339, downloads[i].Date); err == nil {
			parsed[i] = t
		}
	}
	idx := make([]int, len(downloads))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(x, y int) bool {
		tx, okx := parsed[idx[x]]
		ty, oky := parsed[idx[y]]
		switch {
		case okx != oky:
			return okx
		case okx && !tx.Equal(ty):
			return tx.After(ty)
		default:
			return downloads[idx[x]].Name < downloads[idx[y]].Name
		}
	})
	sorted := make([]catalog.Download, len(downloads))
	for i, j := range idx {
		sorted[i] = downloads[j]
	}
	copy(downloads, sorted)
}
