package verify

import (
	"fmt"
	"sort"
	"strings"
)

// how many subreddits the report lists before truncating to the top N
const subredditsToShow = 10

// every non-blank report line carries this prefix so the block renders as
// preformatted text when pasted into a modmail reply
const reportIndent = "    "

// Report returns the reddit-markdown-formatted outcome of the verification.
// Verify must have completed first; otherwise ErrNotEvaluated is returned.
func (v *Verification) Report() (string, error) {
	switch v.verdict {
	case verdictUnevaluated:
		return "", ErrNotEvaluated
	case verdictFailed:
		return fmt.Sprintf("u/%s: verification fail\n\nAccount %s", v.username, v.failure), nil
	}
	return v.results(), nil
}

// results renders the full passing-verdict block. Pure function of the
// Verification state; the exact layout is load-bearing, as moderators
// copy/paste it between threads.
func (v *Verification) results() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("%20s: %s", "User", v.account.Name))
	lines = append(lines, fmt.Sprintf("%20s: %s", "Created", v.formatTime(v.account.Created())))
	lines = append(lines, fmt.Sprintf("%20s: %d", "Commented subreddits", v.subreddits.len()))

	var top []keyCount
	if v.subreddits.len() > subredditsToShow {
		top = v.subreddits.top(subredditsToShow)
		lines = append(lines, fmt.Sprintf("%20s:", fmt.Sprintf("Top %d subreddits", subredditsToShow)))
	} else {
		top = v.subreddits.top(0)
	}
	for _, entry := range top {
		lines = append(lines, fmt.Sprintf("%23s %s (%d comments)", "-", entry.key, entry.count))
	}

	lines = append(lines, fmt.Sprintf("%20s: %d", "Total comments found", v.foundComments))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("r/%s specific", v.subreddit))
	lines = append(lines, fmt.Sprintf("%20s: %d", "Comments", len(v.comments)))

	if len(v.comments) > 0 {
		lines = append(lines, fmt.Sprintf("%20s: %d", "Comment karma", v.karma))
		lines = append(lines, fmt.Sprintf("%20s: %.2f", "Average karma", v.karmaAverage))
		lines = append(lines, fmt.Sprintf("%20s: %s", "Newest comment", v.formatTime(v.comments[len(v.comments)-1].Created())))
		lines = append(lines, fmt.Sprintf("%20s: %s", "Oldest comment", v.formatTime(v.comments[0].Created())))
	}

	noteTypes := make([]string, 0, len(v.noteTypes))
	for noteType := range v.noteTypes {
		noteTypes = append(noteTypes, noteType)
	}
	sort.Strings(noteTypes)
	for _, noteType := range noteTypes {
		lines = append(lines, fmt.Sprintf("%14s count: %d", noteType, v.noteTypes[noteType]))
	}

	for i, line := range lines {
		if line != "" {
			lines[i] = reportIndent + line
		}
	}
	return strings.Join(lines, "\n")
}
