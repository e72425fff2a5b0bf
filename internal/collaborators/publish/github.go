package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

// RepoPublisher commits the rendered digest artifact to a file in a GitHub
// repository via the Contents API, creating the file if it does not yet
// exist and updating it in place otherwise (the retry path may re-run the
// same digestDate).
type RepoPublisher struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

// RepoConfig configures a RepoPublisher.
type RepoConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string // optional; empty uses the repository's default branch
}

// NewRepoPublisher creates a RepoPublisher.
func NewRepoPublisher(cfg RepoConfig) *RepoPublisher {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &RepoPublisher{
		client: github.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		branch: cfg.Branch,
	}
}

var _ collaborators.Publisher = (*RepoPublisher)(nil)

// Name identifies this publisher in logs and status output.
func (p *RepoPublisher) Name() string {
	return "github"
}

// Publish creates or updates the digest file at digests/YYYY-MM-DD-daily.md.
// Idempotent: if the file already exists at the current SHA, it updates it
// in place rather than erroring, so a retried Aggregating phase converges.
func (p *RepoPublisher) Publish(ctx context.Context, digestDate time.Time, artifact []byte) error {
	path := fmt.Sprintf("digests/%s-daily.md", digestDate.Format("2006-01-02"))
	message := fmt.Sprintf("Add daily digest for %s", digestDate.Format("2006-01-02"))

	opts := &github.RepositoryContentFileOptions{
		Message: &message,
		Content: artifact,
		Branch:  branchPtr(p.branch),
	}

	existing, _, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path, &github.RepositoryContentGetOptions{
		Ref: p.branch,
	})
	if err == nil && existing != nil {
		opts.SHA = existing.SHA
	}
	if resp != nil {
		resp.Body.Close()
	}

	_, _, err = p.client.Repositories.CreateFile(ctx, p.owner, p.repo, path, opts)
	if err != nil {
		return fmt.Errorf("publish: github: create/update %s: %w", path, err)
	}

	log.Info().
		Str("publisher", p.Name()).
		Str("path", path).
		Msg("digest committed to repository")
	return nil
}

func branchPtr(branch string) *string {
	if branch == "" {
		return nil
	}
	return &branch
}
