package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"

	"github.com/secrethound/secrethound/internal/rules"
)

// apiVersion pins the self-hosted REST API revision.
const apiVersion = "5.1-preview.1"

// RepoCoords locates a repository on a self-hosted server: everything the
// REST endpoints need, parsed out of a clone URL.
type RepoCoords struct {
	Server     string // scheme://host[:port]
	Collection string // path segments before the project
	Project    string
	Repository string
}

// apiBase is the /{collection}/{project}/_apis/git/repositories/{repo} root.
func (c RepoCoords) apiBase() string {
	parts := []string{c.Server}
	if c.Collection != "" {
		parts = append(parts, c.Collection)
	}
	parts = append(parts, c.Project, "_apis/git/repositories", c.Repository)
	return strings.Join(parts, "/")
}

// ParseRepoURL splits a clone URL around its "_git" segment: the element
// after it is the repository, the one before it the project, and everything
// earlier the collection.
func ParseRepoURL(repoURL string) (RepoCoords, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return RepoCoords{}, fmt.Errorf("parsing repo url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return RepoCoords{}, fmt.Errorf("repo url %q has no scheme or host", repoURL)
	}

	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	gitIdx := -1
	for i, s := range segments {
		if s == "_git" {
			gitIdx = i
			break
		}
	}
	if gitIdx < 1 || gitIdx+1 >= len(segments) {
		return RepoCoords{}, fmt.Errorf("repo url %q has no _git segment", repoURL)
	}

	return RepoCoords{
		Server:     u.Scheme + "://" + u.Host,
		Collection: strings.Join(segments[:gitIdx-1], "/"),
		Project:    segments[gitIdx-1],
		Repository: segments[gitIdx+1],
	}, nil
}

// AzureHub talks to a self-hosted platform over its REST API, negotiating
// authentication per request through an ordered fallback chain.
type AzureHub struct {
	creds   *CredentialStore
	catalog *rules.Catalog
	client  *http.Client
	ntlm    *http.Client
}

func NewAzureHub(creds *CredentialStore, catalog *rules.Catalog) *AzureHub {
	return &AzureHub{
		creds:   creds,
		catalog: catalog,
		client:  &http.Client{Timeout: 60 * time.Second},
		// Performs the NTLM handshake when the server challenges with
		// NTLM/Negotiate, and falls back to plain basic auth otherwise.
		ntlm: &http.Client{
			Timeout:   60 * time.Second,
			Transport: ntlmssp.Negotiator{RoundTripper: http.DefaultTransport},
		},
	}
}

// authAttempt is one rung of the fallback chain.
type authAttempt struct {
	name   string
	client *http.Client
	apply  func(*http.Request)
}

func (a *AzureHub) authChain() []authAttempt {
	login, _ := a.creds.Login()
	password, _ := a.creds.Password()
	pat, _ := a.creds.PAT()

	var chain []authAttempt
	if login != "" {
		chain = append(chain, authAttempt{"ntlm", a.ntlm, func(r *http.Request) {
			r.SetBasicAuth(login, password)
		}})
	}
	if pat != "" {
		chain = append(chain, authAttempt{"pat", a.client, func(r *http.Request) {
			r.SetBasicAuth("", pat)
		}})
	}
	// Bare request relying on ambient transport auth (SSPI proxies etc.).
	chain = append(chain, authAttempt{"negotiate", a.client, func(*http.Request) {}})
	return chain
}

// get runs the fallback chain against urlStr; the first 2xx wins. The
// response body stream is returned so archive downloads are not buffered.
func (a *AzureHub) get(ctx context.Context, urlStr string) (io.ReadCloser, int, error) {
	lastStatus := 0
	for _, attempt := range a.authChain() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, 0, err
		}
		attempt.apply(req)

		resp, err := attempt.client.Do(req)
		if err != nil {
			slog.Warn("Hub request failed", "auth", attempt.name, "error", err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Debug("Hub request authenticated", "auth", attempt.name, "status", resp.StatusCode)
			return resp.Body, resp.StatusCode, nil
		}
		resp.Body.Close()
		lastStatus = resp.StatusCode
		slog.Warn("Hub auth attempt rejected", "auth", attempt.name, "status", resp.StatusCode)
	}
	return nil, lastStatus, fmt.Errorf("all auth methods rejected (last status %d)", lastStatus)
}

func (a *AzureHub) getJSON(ctx context.Context, urlStr string, out any) (int, error) {
	body, status, err := a.get(ctx, urlStr)
	if err != nil {
		return status, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return status, err
	}
	return status, json.Unmarshal(data, out)
}

// accessDenied renders the auth-failure message for a 401/403.
func accessDenied(status int) string {
	return fmt.Sprintf("Access Denied: [%d]. Verify PAT/NTLM access.", status)
}

type refsResponse struct {
	Count int `json:"count"`
	Value []struct {
		Name     string `json:"name"`
		ObjectID string `json:"objectId"`
	} `json:"value"`
}

// ResolveRef maps (refType, ref) to a commit id via the refs/commits
// endpoints. Annotated tags need a second call to resolve the tag object.
func (a *AzureHub) ResolveRef(ctx context.Context, repoURL, refType, ref string) (bool, string, string) {
	coords, err := ParseRepoURL(repoURL)
	if err != nil {
		return false, "", err.Error()
	}
	base := coords.apiBase()

	switch refType {
	case "branch", "tag":
		kind := "heads"
		if refType == "tag" {
			kind = "tags"
		}
		urlStr := fmt.Sprintf("%s/refs?filter=%s/%s&api-version=%s",
			base, kind, url.QueryEscape(ref), apiVersion)

		var refs refsResponse
		status, err := a.getJSON(ctx, urlStr, &refs)
		if err != nil {
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return false, "", accessDenied(status)
			}
			return false, "", fmt.Sprintf("Ref lookup failed: %v", err)
		}

		// The filter is a prefix match; require the exact ref name.
		want := fmt.Sprintf("refs/%s/%s", kind, ref)
		for _, r := range refs.Value {
			if r.Name != want {
				continue
			}
			if refType == "tag" {
				return a.resolveTagObject(ctx, base, r.ObjectID)
			}
			return true, r.ObjectID, ""
		}
		return false, "", fmt.Sprintf("%s %q not found", refType, ref)

	case "commit":
		urlStr := fmt.Sprintf("%s/commits/%s?api-version=%s", base, url.PathEscape(ref), apiVersion)
		var commit struct {
			CommitID string `json:"commitId"`
		}
		status, err := a.getJSON(ctx, urlStr, &commit)
		if err != nil {
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return false, "", accessDenied(status)
			}
			return false, "", fmt.Sprintf("commit %q not found", ref)
		}
		return true, commit.CommitID, ""

	default:
		return false, "", fmt.Sprintf("unsupported ref type %q", refType)
	}
}

// resolveTagObject follows an annotated tag to its target. A lightweight tag
// has no tag object, so a failed lookup means objectID already is the
// commit. A tag pointing at a non-commit keeps the tag object id and warns.
func (a *AzureHub) resolveTagObject(ctx context.Context, base, objectID string) (bool, string, string) {
	urlStr := fmt.Sprintf("%s/annotatedtags/%s?api-version=%s", base, objectID, apiVersion)
	var tag struct {
		TaggedObject struct {
			ObjectID   string `json:"objectId"`
			ObjectType string `json:"objectType"`
		} `json:"taggedObject"`
	}
	if _, err := a.getJSON(ctx, urlStr, &tag); err != nil || tag.TaggedObject.ObjectID == "" {
		return true, objectID, ""
	}
	if tag.TaggedObject.ObjectType != "commit" {
		return true, objectID,
			fmt.Sprintf("tag resolves to a %s object, not a commit", tag.TaggedObject.ObjectType)
	}
	return true, tag.TaggedObject.ObjectID, ""
}

// FetchArchive streams the commit's zip from the items endpoint to disk and
// extracts it under destDir.
func (a *AzureHub) FetchArchive(ctx context.Context, repoURL, commit, destDir string) (string, error) {
	coords, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	urlStr := fmt.Sprintf(
		"%s/items?path=/&versionDescriptor.versionType=commit&versionDescriptor.version=%s&$format=zip&download=true&api-version=%s",
		coords.apiBase(), url.QueryEscape(commit), apiVersion)

	body, status, err := a.get(ctx, urlStr)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return "", fmt.Errorf("%s", accessDenied(status))
		}
		return "", fmt.Errorf("downloading archive: %w", err)
	}
	defer body.Close()

	archivePath := filepath.Join(destDir, "source.zip")
	if err := streamToFile(body, archivePath); err != nil {
		return "", fmt.Errorf("saving archive: %w", err)
	}
	return SafeExtract(archivePath, filepath.Join(destDir, "src"), a.catalog)
}

func streamToFile(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, src)
	return err
}
