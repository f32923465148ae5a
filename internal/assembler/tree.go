package assembler

import (
	"context"
	"path"
	"strings"

	"github.com/JakeFAU/reposync/internal/github"
)

var (
	walkDirs        = map[string]struct{}{"Contents": {}, "Resources": {}}
	imageExtensions = map[string]struct{}{"png": {}, "jpg": {}, "jpeg": {}}
)

const (
	thumbToken       = "icon-default"
	attributionToken = "attribution"
)

type treeImages struct {
	thumb       *string
	attribution *string
}

// walkImages descends from the repository root through the first allowed
// directory at each level and records the icon and attribution images found
// on the way. Deeper matches replace shallower ones.
func (a *Assembler) walkImages(ctx context.Context, repo github.Repo) treeImages {
	ctx, span := a.tracer.Start(ctx, "contents")
	defer span.End()

	var found treeImages
	pending := []string{""}
	for depth := 0; len(pending) > 0; depth++ {
		dir := pending[0]
		pending = pending[1:]
		if depth > a.cfg.MaxTreeDepth {
			a.warn.Warnf(ContextContents, "Stopped walking %s/%s at %q: depth limit %d reached",
				repo.Owner, repo.Name, dir, a.cfg.MaxTreeDepth)
			break
		}
		entries, err := a.api.Contents(ctx, repo, dir)
		if err != nil {
			a.warn.Warnf(ContextContents, "Unable to list contents of %s/%s at %q: %v",
				repo.Owner, repo.Name, dir, err)
			break
		}
		next := ""
		for _, entry := range entries {
			switch entry.Type {
			case github.ContentDir:
				if next == "" && isWalkDir(entry.Name) {
					next = path.Join(dir, entry.Name)
				}
			case github.ContentFile:
				if entry.DownloadURL == nil {
					continue
				}
				switch imageToken(entry.Name) {
				case thumbToken:
					u := *entry.DownloadURL
					found.thumb = &u
				case attributionToken:
					u := *entry.DownloadURL
					found.attribution = &u
				}
			}
		}
		if next != "" {
			pending = append(pending, next)
		}
	}
	return found
}

func isWalkDir(name string) bool {
	if _, ok := walkDirs[name]; ok {
		return true
	}
	return strings.HasSuffix(name, ".bundle")
}

// imageToken returns the base name of an image file, or "" for other files.
func imageToken(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return ""
	}
	if _, ok := imageExtensions[strings.ToLower(name[dot+1:])]; !ok {
		return ""
	}
	return name[:dot]
}
