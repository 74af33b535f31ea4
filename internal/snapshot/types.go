package snapshot

import (
	"net/http"
	"net/url"
	"time"
)

// Source identifies which extraction path produced a snapshot.
type Source string

const (
	// SourceHTML marks snapshots built from page meta tags.
	SourceHTML Source = "html"
	// SourceVideo marks snapshots built from a video hosting API.
	SourceVideo Source = "video"
)

// Request is one inbound snapshot call.
type Request struct {
	URL         *url.URL
	RequestedAt time.Time
	BypassCache bool
}

// Snapshot is the compact preview produced for a URL.
type Snapshot struct {
	URL             string    `json:"url"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"image,omitempty"`
	ImageType       string    `json:"image_type,omitempty"`
	SiteName        string    `json:"site_name,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	ApplicationName string    `json:"application_name,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Source          Source    `json:"source"`
	FetchedAt       time.Time `json:"fetched_at"`

	// BlockedByDirective is set when a robots meta directive forbade using
	// the page content. All content fields are empty in that case.
	BlockedByDirective bool `json:"blocked_by_directive,omitempty"`
}

// Empty reports whether no content field was extracted.
func (s Snapshot) Empty() bool {
	return s.Title == "" && s.Description == "" && s.ImageURL == ""
}

// FetchRequest describes a single outbound HTTP call.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	// MaxBytes caps the body; zero means the fetcher default.
	MaxBytes int64
	// Timeout bounds the whole exchange; zero means the fetcher default.
	Timeout time.Duration
	// NoRedirects returns 3xx responses as-is instead of following them.
	NoRedirects bool
}

// FetchResponse captures what a Fetcher returned.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}
