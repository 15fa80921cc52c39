package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/19radio/internal/domain/track"
)

// RequestLister lists pending listener requests.
type RequestLister interface {
	List() []track.Request
}

// QueueLister lists tracks waiting in, or playing from, the track queue.
type QueueLister interface {
	List() []track.Track
	Current() (track.Track, bool)
}

// DuplicateRequestFilter rejects requests already pending.
// Detects:
// - the same URL among pending requests or queued stream locations
// - the same normalized title (remasters, radio edits, live versions)
type DuplicateRequestFilter struct {
	requests RequestLister
	queue    QueueLister
}

// NewDuplicateRequestFilter creates a new duplicate request filter. Either lister may be nil.
func NewDuplicateRequestFilter(requests RequestLister, queue QueueLister) *DuplicateRequestFilter {
	return &DuplicateRequestFilter{
		requests: requests,
		queue:    queue,
	}
}

func (f *DuplicateRequestFilter) Name() string {
	return "duplicate_request_filter"
}

func (f *DuplicateRequestFilter) Description() string {
	return "Rejects requests whose URL or title is already pending (remasters and edits included)"
}

func (f *DuplicateRequestFilter) ReturnCodes() []string {
	return []string{"duplicate_request"}
}

func (f *DuplicateRequestFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *DuplicateRequestFilter) Check(ctx context.Context, req track.Request) Result {
	title := normalizeTitle(req.Title)

	if f.requests != nil {
		for _, pending := range f.requests.List() {
			if sameURL(pending.URL, req.URL) || (title != "" && normalizeTitle(pending.Title) == title) {
				return Reject("duplicate_request")
			}
		}
	}

	if f.queue != nil {
		queued := f.queue.List()
		if cur, ok := f.queue.Current(); ok {
			queued = append(queued, cur)
		}
		for _, t := range queued {
			if sameURL(t.Location, req.URL) || (title != "" && normalizeTitle(t.Title) == title) {
				return Reject("duplicate_request")
			}
		}
	}

	return Accept()
}

func sameURL(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`), // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),    // "(Radio Edit)"
		regexp.MustCompile(`\s*\(official.*?\)`),
		regexp.MustCompile(`\s*\[official.*?\]`),
		regexp.MustCompile(`\s*-\s*live$`), // "- Live"
		regexp.MustCompile(`\s*\(live\)`),
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),
		regexp.MustCompile(`\s*-?\s*single\s+version`),
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips remaster and version decorations.
func normalizeTitle(name string) string {
	normalized := strings.ToLower(name)
	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

func init() {
	// Listers are injected by the station.
	Register("duplicate_request_filter", func() Filter {
		return &DuplicateRequestFilter{}
	})
}
