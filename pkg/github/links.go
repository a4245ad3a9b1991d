// Package github resolves the GitHub references the linker expands:
// issue/PR mentions like owner/repo#123 or full URLs, and file-snippet
// URLs with line anchors.
package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IssueRef identifies an issue or pull request.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// String returns the short owner/repo#number form.
func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// SnippetRef identifies a range of lines in a file at a ref.
type SnippetRef struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
	Start int // 1-based, inclusive
	End   int // inclusive; equals Start for a single line
}

// String returns a stable cache key for the snippet.
func (r SnippetRef) String() string {
	return fmt.Sprintf("%s/%s@%s/%s#L%d-L%d", r.Owner, r.Repo, r.Ref, r.Path, r.Start, r.End)
}

var (
	// owner/repo#123 — avoids matching inside words or URLs.
	shortIssueRe = regexp.MustCompile(`(?:^|\s)([\w.-]+)/([\w.-]+)#(\d+)\b`)

	// https://github.com/owner/repo/issues/123 or /pull/123
	issueURLRe = regexp.MustCompile(`https://github\.com/([\w.-]+)/([\w.-]+)/(?:issues|pull)/(\d+)\b`)

	// https://github.com/owner/repo/blob/ref/path#L10 or #L10-L20
	snippetURLRe = regexp.MustCompile(`https://github\.com/([\w.-]+)/([\w.-]+)/blob/([\w.-]+)/([^\s#]+)#L(\d+)(?:-L(\d+))?`)
)

// maxRefsPerMessage caps how many references one message expands, so a
// pasted wall of links cannot flood a channel.
const maxRefsPerMessage = 5

// FindIssueRefs extracts issue/PR references from message content, in
// order of appearance, deduplicated, capped at maxRefsPerMessage.
// Snippet URLs are not reported as issue refs.
func FindIssueRefs(content string) []IssueRef {
	seen := make(map[IssueRef]bool)
	var refs []IssueRef

	add := func(owner, repo, num string) {
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return
		}
		ref := IssueRef{Owner: owner, Repo: repo, Number: n}
		if seen[ref] || len(refs) >= maxRefsPerMessage {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	for _, m := range issueURLRe.FindAllStringSubmatch(content, -1) {
		add(m[1], m[2], m[3])
	}
	for _, m := range shortIssueRe.FindAllStringSubmatch(content, -1) {
		add(m[1], m[2], m[3])
	}
	return refs
}

// FindSnippetRefs extracts file-snippet references from message content.
func FindSnippetRefs(content string) []SnippetRef {
	var refs []SnippetRef
	for _, m := range snippetURLRe.FindAllStringSubmatch(content, -1) {
		if len(refs) >= maxRefsPerMessage {
			break
		}
		start, err := strconv.Atoi(m[5])
		if err != nil || start <= 0 {
			continue
		}
		end := start
		if m[6] != "" {
			if e, err := strconv.Atoi(m[6]); err == nil && e >= start {
				end = e
			}
		}
		refs = append(refs, SnippetRef{
			Owner: m[1],
			Repo:  m[2],
			Ref:   m[3],
			Path:  m[4],
			Start: start,
			End:   end,
		})
	}
	return refs
}

// language guesses the code-fence language from the file extension.
func language(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	switch ext := strings.ToLower(path[idx+1:]); ext {
	case "py":
		return "python"
	case "rs":
		return "rust"
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx":
		return "javascript"
	case "yml":
		return "yaml"
	case "md":
		return "markdown"
	case "sh", "bash":
		return "bash"
	default:
		return ext
	}
}
