// Package rewrite turns single-format media references into
// fallback-ordered multi-format markup at delivery time.
package rewrite

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/optipress/optipress/internal/convert"
	"github.com/optipress/optipress/internal/models"
)

// ArtifactLookup resolves a media reference (URL or path as it appears
// in markup) to the converted files available for it. An empty set
// means the reference stays untouched.
type ArtifactLookup func(ctx context.Context, src string) (convert.FileSet, error)

// Rewriter rewrites img and video references. The original element is
// always kept as the last, most-compatible fallback; modern-format
// candidates are added ahead of it, most-compressed first.
type Rewriter struct {
	uploadsDir string
	baseURL    *url.URL
	// fileExists is swappable for tests.
	fileExists func(path string) bool
	logger     *slog.Logger
}

// New creates a rewriter. baseURL is the public URL of the uploads root
// and is used to map width-variant URLs back to files on disk.
func New(uploadsDir, baseURL string) (*Rewriter, error) {
	r := &Rewriter{
		uploadsDir: strings.TrimRight(uploadsDir, "/"),
		fileExists: fileOnDisk,
		logger:     slog.Default(),
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

// WithLogger sets the logger.
func (r *Rewriter) WithLogger(logger *slog.Logger) *Rewriter {
	r.logger = logger
	return r
}

// WithFileCheck overrides the on-disk existence check.
func (r *Rewriter) WithFileCheck(check func(path string) bool) *Rewriter {
	r.fileExists = check
	return r
}

func fileOnDisk(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RewriteImageTag wraps the img element in the given markup fragment in
// a picture element with one source per available modern format, AVIF
// before WebP, original img last and unmodified. Returns the input
// unchanged when no converted files exist or no img element is found.
func (r *Rewriter) RewriteImageTag(tag string, files convert.FileSet) (string, error) {
	if len(files) == 0 {
		return tag, nil
	}
	container, err := parseFragment(tag)
	if err != nil {
		return tag, err
	}
	img := findElement(container, atom.Img)
	if img == nil {
		return tag, nil
	}
	picture := r.buildPicture(img, files)
	if picture == nil {
		return tag, nil
	}
	replaceNode(img, picture)
	return renderChildren(container)
}

// RewriteVideoTag rewrites the video element in the fragment to carry
// an ordered source list: AV1 before WebM before the original. A src
// attribute on the element is moved into a trailing source child, since
// a src attribute would override every source. Returns the input
// unchanged when no converted files exist.
func (r *Rewriter) RewriteVideoTag(tag string, files convert.FileSet) (string, error) {
	if len(files) == 0 {
		return tag, nil
	}
	container, err := parseFragment(tag)
	if err != nil {
		return tag, err
	}
	video := findElement(container, atom.Video)
	if video == nil {
		return tag, nil
	}
	if !r.rewriteVideoNode(video, files) {
		return tag, nil
	}
	return renderChildren(container)
}

// RewriteContent walks an HTML fragment and rewrites every img and
// video reference the lookup recognizes. References without converted
// files pass through untouched.
func (r *Rewriter) RewriteContent(ctx context.Context, content string, lookup ArtifactLookup) (string, error) {
	if content == "" || lookup == nil {
		return content, nil
	}
	container, err := parseFragment(content)
	if err != nil {
		return content, err
	}

	changed := false
	for _, img := range collectElements(container, atom.Img) {
		src := attrValue(img, "src")
		if src == "" {
			continue
		}
		files, err := lookup(ctx, src)
		if err != nil {
			r.logger.Debug("artifact lookup failed",
				slog.String("src", src),
				slog.String("error", err.Error()))
			continue
		}
		if len(files) == 0 {
			continue
		}
		if picture := r.buildPicture(img, files); picture != nil {
			replaceNode(img, picture)
			changed = true
		}
	}
	for _, video := range collectElements(container, atom.Video) {
		src := videoSrc(video)
		if src == "" {
			continue
		}
		files, err := lookup(ctx, src)
		if err != nil || len(files) == 0 {
			continue
		}
		if r.rewriteVideoNode(video, files) {
			changed = true
		}
	}

	if !changed {
		return content, nil
	}
	return renderChildren(container)
}

// buildPicture returns the picture replacement for an img node, or nil
// when no modern-format source has any usable candidate.
func (r *Rewriter) buildPicture(img *html.Node, files convert.FileSet) *html.Node {
	picture := newElement(atom.Picture)
	for _, format := range files.Formats(models.MediaTypeImage) {
		srcset := r.candidateList(img, format, files)
		if srcset == "" {
			continue
		}
		source := newElement(atom.Source)
		source.Attr = []html.Attribute{
			{Key: "type", Val: format.MIMEType()},
			{Key: "srcset", Val: srcset},
		}
		if sizes := attrValue(img, "sizes"); sizes != "" {
			source.Attr = append(source.Attr, html.Attribute{Key: "sizes", Val: sizes})
		}
		picture.AppendChild(source)
	}
	if picture.FirstChild == nil {
		return nil
	}
	picture.AppendChild(detachedClone(img))
	return picture
}

// candidateList derives the srcset value for one format. Each original
// width candidate is kept only when its converted sibling exists on
// disk; a missing width drops that candidate, never the whole image.
func (r *Rewriter) candidateList(img *html.Node, format models.Format, files convert.FileSet) string {
	mainSrc := attrValue(img, "src")
	if srcset := attrValue(img, "srcset"); srcset != "" {
		var kept []string
		for _, candidate := range splitSrcset(srcset) {
			candidateURL, descriptor := splitCandidate(candidate)
			swapped := swapExtension(candidateURL, format)
			if swapped == candidateURL {
				continue
			}
			if !r.artifactAt(swapped, format, files, candidateURL == mainSrc) {
				continue
			}
			if descriptor != "" {
				kept = append(kept, swapped+" "+descriptor)
			} else {
				kept = append(kept, swapped)
			}
		}
		return strings.Join(kept, ", ")
	}

	if mainSrc == "" {
		return ""
	}
	swapped := swapExtension(mainSrc, format)
	if swapped == mainSrc || !r.artifactAt(swapped, format, files, true) {
		return ""
	}
	return swapped
}

// artifactAt reports whether the converted candidate exists. URLs under
// the uploads base are checked on disk. A URL the rewriter cannot map
// has no per-candidate check, so only the tag's main src is trusted
// there, and only when the ledger tracks the format; width variants on
// unmappable hosts are dropped.
func (r *Rewriter) artifactAt(swappedURL string, format models.Format, files convert.FileSet, mainSrc bool) bool {
	if diskPath, ok := r.pathForURL(swappedURL); ok {
		return r.fileExists(diskPath)
	}
	if !mainSrc {
		return false
	}
	tracked, ok := files[format]
	return ok && tracked != ""
}

// pathForURL maps a markup URL to its path under the uploads root.
func (r *Rewriter) pathForURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if parsed.Host != "" {
		if r.baseURL == nil || !strings.EqualFold(parsed.Host, r.baseURL.Host) {
			return "", false
		}
	}
	basePath := "/"
	if r.baseURL != nil {
		basePath = r.baseURL.Path
	}
	rel, ok := strings.CutPrefix(path.Clean(parsed.Path), basePath+"/")
	if !ok || rel == "" {
		return "", false
	}
	return r.uploadsDir + "/" + rel, true
}

// rewriteVideoNode prepends ordered modern sources to the video element
// and demotes a src attribute to a trailing source child. Reports
// whether anything changed.
func (r *Rewriter) rewriteVideoNode(video *html.Node, files convert.FileSet) bool {
	src := videoSrc(video)
	if src == "" {
		return false
	}

	var sources []*html.Node
	for _, format := range files.Formats(models.MediaTypeVideo) {
		swapped := swapExtension(src, format)
		if swapped == src || !r.artifactAt(swapped, format, files, true) {
			continue
		}
		source := newElement(atom.Source)
		source.Attr = []html.Attribute{
			{Key: "src", Val: swapped},
			{Key: "type", Val: format.SourceMIMEType()},
		}
		sources = append(sources, source)
	}
	if len(sources) == 0 {
		return false
	}

	// The original reference becomes the last source so browsers walk
	// the list in order.
	if direct := attrValue(video, "src"); direct != "" {
		original := newElement(atom.Source)
		original.Attr = []html.Attribute{{Key: "src", Val: direct}}
		if mime, ok := convert.SourceMIME(direct); ok {
			original.Attr = append(original.Attr, html.Attribute{Key: "type", Val: mime})
		}
		sources = append(sources, original)
		removeAttr(video, "src")
	}

	first := video.FirstChild
	for _, source := range sources {
		video.InsertBefore(source, first)
	}
	return true
}

// videoSrc returns the element's src attribute, or the src of its first
// source child.
func videoSrc(video *html.Node) string {
	if src := attrValue(video, "src"); src != "" {
		return src
	}
	for c := video.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Source {
			if src := attrValue(c, "src"); src != "" {
				return src
			}
		}
	}
	return ""
}

// swapExtension replaces the final extension of a URL path with the
// format's artifact extension. Returns the input unchanged when there
// is no extension to replace.
func swapExtension(rawURL string, format models.Format) string {
	ext := path.Ext(rawURL)
	if ext == "" || strings.ContainsAny(ext, "/?#") {
		return rawURL
	}
	return strings.TrimSuffix(rawURL, ext) + "." + format.Extension()
}

// splitSrcset splits a srcset attribute into candidate strings.
func splitSrcset(srcset string) []string {
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// splitCandidate separates a srcset candidate into URL and descriptor.
func splitCandidate(candidate string) (string, string) {
	fields := strings.Fields(candidate)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func parseFragment(fragment string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}
	container := newElement(atom.Div)
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return container, nil
}

func renderChildren(container *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("rendering markup: %w", err)
		}
	}
	return buf.String(), nil
}

func newElement(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

func findElement(root *html.Node, a atom.Atom) *html.Node {
	elements := collectElements(root, a)
	if len(elements) == 0 {
		return nil
	}
	return elements[0]
}

func collectElements(root *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Key != key {
			kept = append(kept, attr)
		}
	}
	n.Attr = kept
}

func replaceNode(old, replacement *html.Node) {
	if old.Parent == nil {
		return
	}
	old.Parent.InsertBefore(replacement, old)
	old.Parent.RemoveChild(old)
}

// detachedClone copies an element node and its subtree with no parent
// or sibling links, so it can be re-homed.
func detachedClone(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:     n.Type,
		DataAtom: n.DataAtom,
		Data:     n.Data,
		Attr:     append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone.AppendChild(detachedClone(c))
	}
	return clone
}
