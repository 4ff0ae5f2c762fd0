package application

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"voicecall/internal/domain"
)

// DefaultCandidateTemplates are tried in order: the primary endpoint, the API
// proxy and the static mount. All serve the same bytes.
var DefaultCandidateTemplates = []string{
	"{base}/{ref}?t={ts}",
	"{base}/api/audio/{ref}?t={ts}",
	"{base}/static/{ref}?t={ts}",
}

// CandidateBuilder expands an audio reference into ordered candidate locations.
type CandidateBuilder struct {
	base      string
	templates []string
	now       func() time.Time
}

func NewCandidateBuilder(base string, templates []string) (*CandidateBuilder, error) {
	if len(templates) == 0 {
		templates = DefaultCandidateTemplates
	}
	for _, tmpl := range templates {
		if !strings.Contains(tmpl, "{ref}") {
			return nil, fmt.Errorf("candidate template %q has no {ref} placeholder", tmpl)
		}
	}
	return &CandidateBuilder{
		base:      strings.TrimRight(base, "/"),
		templates: templates,
		now:       time.Now,
	}, nil
}

// Build returns an asset with at least one candidate. A ref that is already an
// absolute URL is tried first, as-is.
func (b *CandidateBuilder) Build(ref string) domain.AudioAsset {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	name := path.Base(strings.ReplaceAll(ref, "\\", "/"))

	asset := domain.AudioAsset{Ref: ref}
	seen := make(map[domain.CandidateLocation]bool)
	add := func(loc string) {
		c := domain.CandidateLocation(loc)
		if loc == "" || seen[c] {
			return
		}
		seen[c] = true
		asset.Candidates = append(asset.Candidates, c)
	}

	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		add(ref)
	}

	r := strings.NewReplacer("{base}", b.base, "{ref}", url.PathEscape(name), "{ts}", ts)
	for _, tmpl := range b.templates {
		add(r.Replace(tmpl))
	}
	return asset
}
