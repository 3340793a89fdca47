package github_http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/debfactory/internal/domain"
)

const perPage = 100

// Client lists an organization's repositories and branch heads through
// the GitHub REST API. Transient failures (429, 5xx, network) are
// retried with exponential backoff; other 4xx responses stop the retry
// loop immediately.
type Client struct {
	baseUrl string
	token   string
	hc      *http.Client
}

func New(baseUrl string, token string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl: trimSlash(baseUrl),
		token:   token,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
	}
}

type repoDTO struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
}

type branchDTO struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

func (c *Client) ListRepositories(ctx context.Context, org string) ([]domain.RemoteRepo, error) {
	var out []domain.RemoteRepo

	err := c.fetchAll(ctx, fmt.Sprintf("%s/orgs/%s/repos", c.baseUrl, org), func(body []byte) (int, error) {
		var page []repoDTO
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			out = append(out, domain.RemoteRepo{Name: r.Name, CloneURL: r.CloneURL})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list repositories for %s: %w", org, err)
	}

	return out, nil
}

func (c *Client) ListBranches(ctx context.Context, org, repo string) ([]domain.RemoteBranch, error) {
	var out []domain.RemoteBranch

	err := c.fetchAll(ctx, fmt.Sprintf("%s/repos/%s/%s/branches", c.baseUrl, org, repo), func(body []byte) (int, error) {
		var page []branchDTO
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, b := range page {
			out = append(out, domain.RemoteBranch{Name: b.Name, Head: b.Commit.SHA})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches for %s/%s: %w", org, repo, err)
	}

	return out, nil
}

// fetchAll walks GitHub's page-numbered pagination until a short page,
// handing each response body to collect. Each page fetch runs inside
// its own backoff loop.
func (c *Client) fetchAll(ctx context.Context, url string, collect func([]byte) (int, error)) error {
	for page := 1; ; page++ {
		body, err := c.getPage(ctx, fmt.Sprintf("%s?page=%d&per_page=%d", url, page, perPage))
		if err != nil {
			return err
		}

		n, err := collect(body)
		if err != nil {
			return err
		}
		if n < perPage {
			return nil
		}
	}
}

func (c *Client) getPage(ctx context.Context, pageURL string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			return fmt.Errorf("github 429")
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("github %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("github %s", resp.Status))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
