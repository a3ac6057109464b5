package services

import (
	"fmt"
	"net/url"
	"strings"
)

// GitHubResource describes a file referenced by a GitHub URL. Owner,
// Repo, Version, Path and File are empty for hosts other than github.com
// and raw.githubusercontent.com.
type GitHubResource struct {
	Scheme  string
	Host    string
	Owner   string
	Repo    string
	Version string
	Path    string
	File    string
}

// ParseGitHubResourceURL splits a link to a file on GitHub, in either
// the blob form (github.com/<owner>/<repo>/blob/<version>/<path>) or
// the raw form (raw.githubusercontent.com/<owner>/<repo>/<version>/<path>).
// Clone URLs are rejected.
func ParseGitHubResourceURL(link string) (GitHubResource, error) {
	if strings.HasPrefix(link, "git@") || strings.HasSuffix(link, ".git") {
		return GitHubResource{}, fmt.Errorf("%s is not a valid url to a resource file on GitHub", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		return GitHubResource{}, fmt.Errorf("parse %s: %w", link, err)
	}
	res := GitHubResource{Scheme: u.Scheme, Host: u.Host}
	parts := strings.Split(u.Path, "/")

	var versionAt int
	switch u.Host {
	case "github.com":
		versionAt = 4
	case "raw.githubusercontent.com":
		versionAt = 3
	default:
		return res, nil
	}
	if len(parts) <= versionAt {
		return GitHubResource{}, fmt.Errorf("%s is too short to name a file on GitHub", link)
	}

	res.Owner = parts[1]
	res.Repo = parts[2]
	res.Version = parts[versionAt]
	res.Path = strings.Join(parts[versionAt+1:], "/")
	res.File = parts[len(parts)-1]
	return res, nil
}
