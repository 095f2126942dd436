package repository

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"
	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/secrethound/secrethound/internal/rules"
)

// lsRemoteTimeout bounds the external ref-listing subprocess.
const lsRemoteTimeout = 20 * time.Second

// GitHubHub resolves refs by listing the remote (git ls-remote, with an
// in-process fallback when the binary is absent) and fetches archives over
// plain HTTPS, or via the API when a token is configured.
type GitHubHub struct {
	token   string
	catalog *rules.Catalog
	client  *http.Client
	gh      *gogithub.Client // nil without a token
}

func NewGitHubHub(token string, catalog *rules.Catalog) *GitHubHub {
	h := &GitHubHub{
		token:   token,
		catalog: catalog,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc := oauth2.NewClient(context.Background(), ts)
		h.client = tc
		h.client.Timeout = 5 * time.Minute
		h.gh = gogithub.NewClient(tc)
	}
	return h
}

// remoteRef is one line of ls-remote output.
type remoteRef struct {
	hash string
	name string // "refs/heads/main"
}

// listRemote shells out to git ls-remote; extra is "--heads", "--tags" or
// "" for the bare listing used by commit resolution.
func (g *GitHubHub) listRemote(ctx context.Context, repoURL, extra string) ([]remoteRef, error) {
	cctx, cancel := context.WithTimeout(ctx, lsRemoteTimeout)
	defer cancel()

	args := []string{"ls-remote"}
	if extra != "" {
		args = append(args, extra)
	}
	args = append(args, repoURL)

	out, err := exec.CommandContext(cctx, "git", args...).Output()
	if err != nil {
		slog.Warn("git ls-remote failed, using in-process listing", "error", err)
		return g.listRemoteInProcess(ctx, repoURL, extra)
	}

	var refs []remoteRef
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			refs = append(refs, remoteRef{hash: fields[0], name: fields[1]})
		}
	}
	return refs, nil
}

// listRemoteInProcess lists refs with go-git when the git binary is missing.
func (g *GitHubHub) listRemoteInProcess(ctx context.Context, repoURL, extra string) ([]remoteRef, error) {
	rem := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	listed, err := rem.ListContext(ctx, &gogit.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing remote refs: %w", err)
	}

	var refs []remoteRef
	for _, r := range listed {
		name := r.Name().String()
		switch extra {
		case "--heads":
			if !strings.HasPrefix(name, "refs/heads/") {
				continue
			}
		case "--tags":
			if !strings.HasPrefix(name, "refs/tags/") {
				continue
			}
		}
		refs = append(refs, remoteRef{hash: r.Hash().String(), name: name})
	}
	return refs, nil
}

// ResolveRef lists the remote and matches the requested ref. A commit ref
// succeeds on a prefix match against any listed hash and resolves to the
// given id unchanged.
func (g *GitHubHub) ResolveRef(ctx context.Context, repoURL, refType, ref string) (bool, string, string) {
	var extra string
	switch refType {
	case "branch":
		extra = "--heads"
	case "tag":
		extra = "--tags"
	case "commit":
		extra = ""
	default:
		return false, "", fmt.Sprintf("unsupported ref type %q", refType)
	}

	refs, err := g.listRemote(ctx, repoURL, extra)
	if err != nil {
		return false, "", fmt.Sprintf("Ref lookup failed: %v", err)
	}

	if refType == "commit" {
		for _, r := range refs {
			if strings.HasPrefix(r.hash, ref) {
				return true, ref, ""
			}
		}
		return false, "", fmt.Sprintf("commit %q not found", ref)
	}

	for _, r := range refs {
		if strings.HasSuffix(r.name, "/"+ref) {
			return true, r.hash, ""
		}
	}
	return false, "", fmt.Sprintf("%s %q not found", refType, ref)
}

// FetchArchive downloads {repo}/archive/{commit}.zip (or the API archive
// link when authenticated) and extracts it under destDir.
func (g *GitHubHub) FetchArchive(ctx context.Context, repoURL, commit, destDir string) (string, error) {
	downloadURL := strings.TrimSuffix(repoURL, ".git") + "/archive/" + commit + ".zip"

	if g.gh != nil {
		if owner, repo, err := parseOwnerRepo(repoURL); err == nil {
			link, _, err := g.gh.Repositories.GetArchiveLink(ctx, owner, repo,
				gogithub.Zipball, &gogithub.RepositoryContentGetOptions{Ref: commit}, 3)
			if err != nil {
				return "", fmt.Errorf("resolving archive link: %w", err)
			}
			downloadURL = link.String()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("archive download returned %d", resp.StatusCode)
	}

	archivePath := filepath.Join(destDir, "source.zip")
	if err := streamToFile(resp.Body, archivePath); err != nil {
		return "", fmt.Errorf("saving archive: %w", err)
	}
	return SafeExtract(archivePath, filepath.Join(destDir, "src"), g.catalog)
}

// parseOwnerRepo extracts "owner", "repo" from a public-host clone URL.
func parseOwnerRepo(repoURL string) (string, string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("url %q is not owner/repo shaped", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
