package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
)

// Status emojis rendered next to expanded references. These are custom
// emoji uploaded from the octicons set; Discord resolves them by ID on
// any server, other platforms fall back to the plain state text.
const (
	EmojiIssueOpen   = "<:IssueOpen:852596024777506817>"
	EmojiIssueClosed = "<:IssueClosed:927326162861039626>"
	EmojiIssueDraft  = "<:IssueDraft:852596025147523102>"
	EmojiPROpen      = "<:PROpen:852596471505223781>"
	EmojiPRClosed    = "<:PRClosed:852596024732286976>"
	EmojiPRDraft     = "<:PRDraft:852596025045680218>"
	EmojiPRMerged    = "<:PRMerged:852596100301193227>"
)

// ErrNotFound marks a reference that GitHub reports as missing or
// private. The linker silently skips these.
var ErrNotFound = errors.New("github: not found")

const (
	defaultAPIBase  = "https://api.github.com"
	defaultTimeout  = 10 * time.Second
	snippetCacheTTL = 15 * time.Minute
	maxSnippetLines = 30
	maxSnippetBytes = 2000
)

// Issue is the subset of issue/PR state the linker renders.
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	Draft   bool   `json:"draft"`
	Merged  bool   `json:"merged"`

	// Present on the issues endpoint when the issue is a PR.
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// IsPull reports whether the issue is actually a pull request.
func (i *Issue) IsPull() bool { return i.PullRequest != nil || i.Merged }

// StatusEmoji picks the state emoji for an issue or PR.
func StatusEmoji(i *Issue) string {
	if i.IsPull() {
		switch {
		case i.Merged:
			return EmojiPRMerged
		case i.State == "closed":
			return EmojiPRClosed
		case i.Draft:
			return EmojiPRDraft
		default:
			return EmojiPROpen
		}
	}
	switch {
	case i.State == "closed":
		return EmojiIssueClosed
	case i.Draft:
		return EmojiIssueDraft
	default:
		return EmojiIssueOpen
	}
}

type cachedSnippet struct {
	text    string
	fetched time.Time
}

// Client talks to the GitHub REST API. A token raises the rate limit
// and grants access to private repos; without one the client runs
// unauthenticated.
type Client struct {
	http    *http.Client
	apiBase string

	mu       sync.Mutex
	snippets map[string]cachedSnippet
}

// NewClient builds a client. token may be empty.
func NewClient(token string) *Client {
	hc := &http.Client{Timeout: defaultTimeout}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), src)
		hc.Timeout = defaultTimeout
	}
	return &Client{
		http:     hc,
		apiBase:  defaultAPIBase,
		snippets: make(map[string]cachedSnippet),
	}
}

// FetchIssue resolves an issue or PR reference. PRs are fetched from
// the pulls endpoint so merged/draft state is populated.
func (c *Client) FetchIssue(ctx context.Context, ref IssueRef) (*Issue, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.apiBase, ref.Owner, ref.Repo, ref.Number)
	var issue Issue
	if err := c.getJSON(ctx, url, &issue); err != nil {
		return nil, err
	}
	if issue.PullRequest != nil {
		url = fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.apiBase, ref.Owner, ref.Repo, ref.Number)
		var pr Issue
		if err := c.getJSON(ctx, url, &pr); err != nil {
			return nil, err
		}
		pr.PullRequest = issue.PullRequest
		return &pr, nil
	}
	return &issue, nil
}

// FetchSnippet fetches the referenced lines and renders them as a
// fenced code block. Results are cached; EvictExpired drops stale
// entries.
func (c *Client) FetchSnippet(ctx context.Context, ref SnippetRef) (string, error) {
	key := ref.String()

	c.mu.Lock()
	if cached, ok := c.snippets[key]; ok && time.Since(cached.fetched) < snippetCacheTTL {
		c.mu.Unlock()
		return cached.text, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiBase, ref.Owner, ref.Repo, ref.Path, ref.Ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}

	text := renderSnippet(string(body), ref)
	c.mu.Lock()
	c.snippets[key] = cachedSnippet{text: text, fetched: time.Now()}
	c.mu.Unlock()
	return text, nil
}

// EvictExpired drops snippet cache entries past their TTL and returns
// how many were removed. Called on a schedule.
func (c *Client) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for key, cached := range c.snippets {
		if time.Since(cached.fetched) >= snippetCacheTTL {
			delete(c.snippets, key)
			evicted++
		}
	}
	return evicted
}

// CacheSize returns the number of cached snippets.
func (c *Client) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snippets)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// renderSnippet slices the requested line range out of a file body and
// wraps it in a code fence. Oversized ranges are truncated.
func renderSnippet(body string, ref SnippetRef) string {
	lines := strings.Split(body, "\n")
	start, end := ref.Start, ref.End
	if start > len(lines) {
		return ""
	}
	if end > len(lines) {
		end = len(lines)
	}
	truncated := false
	if end-start+1 > maxSnippetLines {
		end = start + maxSnippetLines - 1
		truncated = true
	}

	code := strings.Join(lines[start-1:end], "\n")
	code = strings.TrimRight(code, "\n")
	if len(code) > maxSnippetBytes {
		// Back the cut up to a rune boundary so the truncation never
		// leaves a torn UTF-8 sequence.
		cut := maxSnippetBytes
		for cut > 0 && !utf8.RuneStart(code[cut]) {
			cut--
		}
		code = code[:cut]
		truncated = true
	}
	// A fence inside the snippet would break the block.
	code = strings.ReplaceAll(code, "```", "`​``")

	var b strings.Builder
	fmt.Fprintf(&b, "`%s` lines %d", ref.Path, start)
	if end > start {
		fmt.Fprintf(&b, "-%d", end)
	}
	b.WriteString("\n```")
	b.WriteString(language(ref.Path))
	b.WriteString("\n")
	b.WriteString(code)
	if truncated {
		b.WriteString("\n… truncated")
	}
	b.WriteString("\n```")
	return b.String()
}
