package repository

import (
	"context"

	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/rules"
)

// Hub abstracts the code-hosting platform behind two operations: turning a
// symbolic ref into an immutable commit id, and materialising a commit as an
// extracted source tree.
//
// ResolveRef never returns an error: the caller branches on exists, and
// message explains a false result (or warns about an unusual true one).
// FetchArchive downloads the commit's archive into destDir and returns the
// extraction root.
type Hub interface {
	ResolveRef(ctx context.Context, repoURL, refType, ref string) (exists bool, commit string, message string)
	FetchArchive(ctx context.Context, repoURL, commit, destDir string) (string, error)
}

// New selects the Hub variant for the configured platform.
func New(cfg *config.Config, catalog *rules.Catalog, creds *CredentialStore) Hub {
	if cfg.IsGitHub() {
		return NewGitHubHub(cfg.GitHubToken, catalog)
	}
	return NewAzureHub(creds, catalog)
}
