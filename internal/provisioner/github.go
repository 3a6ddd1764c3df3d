package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

type githubPRResponse struct {
	Head struct {
		Ref  string `json:"ref"`
		SHA  string `json:"sha"`
		Repo struct {
			CloneURL string `json:"clone_url"`
			Owner    struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repo"`
	} `json:"head"`
	Base struct {
		Repo struct {
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repo"`
	} `json:"base"`
}

// FetchPRHead queries the GitHub REST API directly for a PR's head
// branch, clone URL, and fork status. No pack dependency wraps the
// GitHub API (the teacher and the rest of the pack have no github
// client library in their dependency graphs), so net/http is used
// directly rather than treated as a gap.
func FetchPRHead(ctx context.Context, orgRepo string, pr int) (GitHubPRHead, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/pulls/%d", orgRepo, pr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return GitHubPRHead{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := GitHubTokenFunc(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return GitHubPRHead{}, fmt.Errorf("querying GitHub for %s#%d: %w", orgRepo, pr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return GitHubPRHead{}, fmt.Errorf("GitHub API returned %s for %s#%d", resp.Status, orgRepo, pr)
	}

	var body githubPRResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GitHubPRHead{}, fmt.Errorf("decoding GitHub response for %s#%d: %w", orgRepo, pr, err)
	}

	return GitHubPRHead{
		Ref:       body.Head.Ref,
		SHA:       body.Head.SHA,
		CloneURL:  body.Head.Repo.CloneURL,
		IsFork:    body.Head.Repo.Owner.Login != body.Base.Repo.Owner.Login,
		ForkOwner: body.Head.Repo.Owner.Login,
	}, nil
}

// GitHubTokenFunc resolves the bearer token used for GitHub API
// requests, overridable so callers can layer in a keyring-stored
// fallback (see internal/secrets); defaults to the documented
// GITHUB_TOKEN environment variable only.
var GitHubTokenFunc = func() string {
	return os.Getenv("GITHUB_TOKEN")
}
