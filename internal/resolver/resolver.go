// Package resolver maps URLs and file paths back to attachment IDs.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/optipress/optipress/internal/repository"
)

// CanonicalLookup resolves a canonical URL to an attachment ID the way
// the host CMS does. Optional; 0 means no match.
type CanonicalLookup func(ctx context.Context, rawURL string) (int64, error)

// Resolver recovers the attachment ID behind an arbitrary URL, CDN URL,
// or local file path. Absence of a mapping is the normal case for
// non-attachment files and resolves to 0 without error.
type Resolver struct {
	attachments repository.AttachmentRepository
	uploadsDir  string
	baseURL     *url.URL
	canonical   CanonicalLookup
	logger      *slog.Logger
}

// New creates a resolver rooted at the uploads directory. baseURL is the
// public URL of the uploads root and may be empty when the host serves
// no public URLs.
func New(attachments repository.AttachmentRepository, uploadsDir, baseURL string) (*Resolver, error) {
	r := &Resolver{
		attachments: attachments,
		uploadsDir:  strings.TrimRight(uploadsDir, "/"),
		logger:      slog.Default(),
	}
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
		}
		parsed.Path = strings.TrimRight(parsed.Path, "/")
		r.baseURL = parsed
	}
	return r, nil
}

// WithCanonicalLookup installs the host-system canonical URL resolver,
// consulted before any path-derived matching.
func (r *Resolver) WithCanonicalLookup(lookup CanonicalLookup) *Resolver {
	r.canonical = lookup
	return r
}

// WithLogger sets the logger.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// Resolve maps the input to an attachment ID. Inputs starting with
// http:// or https:// take the URL path; everything else is treated as a
// filesystem path. Returns 0 with a nil error when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, input string) (int64, error) {
	if input == "" {
		return 0, nil
	}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return r.resolveURL(ctx, input)
	}
	return r.resolvePath(ctx, input)
}

// resolveURL tries canonical lookup, then the uploads-root derived
// relative path, then an exact CDN URL match.
func (r *Resolver) resolveURL(ctx context.Context, rawURL string) (int64, error) {
	if r.canonical != nil {
		id, err := r.canonical(ctx, rawURL)
		if err != nil {
			r.logger.Debug("canonical URL lookup failed",
				slog.String("url", rawURL),
				slog.String("error", err.Error()))
		} else if id > 0 {
			return id, nil
		}
	}

	if rel, ok := r.relativeFromURL(rawURL); ok {
		id, err := r.lookupRelative(ctx, rel)
		if err != nil || id > 0 {
			return id, err
		}
	}

	meta, err := r.attachments.GetByCDNURL(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if meta != nil {
		return meta.AttachmentID, nil
	}
	return 0, nil
}

// resolvePath strips the uploads root from a filesystem path and matches
// the remainder against stored relative paths.
func (r *Resolver) resolvePath(ctx context.Context, filePath string) (int64, error) {
	rel, ok := strings.CutPrefix(filePath, r.uploadsDir+"/")
	if !ok {
		return 0, nil
	}
	return r.lookupRelative(ctx, rel)
}

func (r *Resolver) lookupRelative(ctx context.Context, rel string) (int64, error) {
	meta, err := r.attachments.GetByRelativePath(ctx, rel)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, nil
	}
	return meta.AttachmentID, nil
}

// relativeFromURL derives the uploads-relative path from an absolute URL
// when the URL lives under the configured base URL.
func (r *Resolver) relativeFromURL(rawURL string) (string, bool) {
	if r.baseURL == nil {
		return "", false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(parsed.Host, r.baseURL.Host) {
		return "", false
	}
	cleaned := path.Clean(parsed.Path)
	rel, ok := strings.CutPrefix(cleaned, r.baseURL.Path+"/")
	if !ok || rel == "" {
		return "", false
	}
	return rel, true
}
