package rewrite

import (
	"context"
	"strings"
	"testing"

	"github.com/optipress/optipress/internal/convert"
	"github.com/optipress/optipress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRewriter(t *testing.T, existing ...string) *Rewriter {
	t.Helper()
	r, err := New("/up", "https://x/wp-content/uploads")
	require.NoError(t, err)
	onDisk := make(map[string]bool, len(existing))
	for _, p := range existing {
		onDisk[p] = true
	}
	return r.WithFileCheck(func(path string) bool { return onDisk[path] })
}

func imageFiles() convert.FileSet {
	return convert.FileSet{
		models.FormatWebP: "/up/2024/01/img.webp",
		models.FormatAVIF: "/up/2024/01/img.avif",
	}
}

func TestRewriteImageTag_FallbackOrdering(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/img.avif", "/up/2024/01/img.webp")
	tag := `<img src="https://x/wp-content/uploads/2024/01/img.jpg" alt="a cat" width="640" height="480" loading="lazy">`

	out, err := r.RewriteImageTag(tag, imageFiles())
	require.NoError(t, err)

	avif := strings.Index(out, `type="image/avif"`)
	webp := strings.Index(out, `type="image/webp"`)
	img := strings.Index(out, "<img")
	require.True(t, avif >= 0 && webp >= 0 && img >= 0, out)
	assert.Less(t, avif, webp, "AVIF candidate precedes WebP")
	assert.Less(t, webp, img, "original element is the last fallback")

	assert.True(t, strings.HasPrefix(out, "<picture>"), out)
	assert.Contains(t, out, `srcset="https://x/wp-content/uploads/2024/01/img.avif"`)
	assert.Contains(t, out, `srcset="https://x/wp-content/uploads/2024/01/img.webp"`)
}

func TestRewriteImageTag_OriginalAttributesKept(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/img.webp")
	tag := `<img src="https://x/wp-content/uploads/2024/01/img.jpg" alt="a cat" width="640" height="480" loading="lazy" class="aligncenter">`

	out, err := r.RewriteImageTag(tag, convert.FileSet{models.FormatWebP: "/up/2024/01/img.webp"})
	require.NoError(t, err)

	assert.Contains(t, out, `alt="a cat"`)
	assert.Contains(t, out, `width="640"`)
	assert.Contains(t, out, `height="480"`)
	assert.Contains(t, out, `loading="lazy"`)
	assert.Contains(t, out, `class="aligncenter"`)
	assert.Contains(t, out, `src="https://x/wp-content/uploads/2024/01/img.jpg"`)
}

func TestRewriteImageTag_SrcsetCompleteness(t *testing.T) {
	// Only the 320 and 640 widths have AVIF siblings on disk.
	r := newRewriter(t,
		"/up/2024/01/img-320.avif",
		"/up/2024/01/img-640.avif",
	)
	tag := `<img src="https://x/wp-content/uploads/2024/01/img-1024.jpg"` +
		` srcset="https://x/wp-content/uploads/2024/01/img-320.jpg 320w,` +
		` https://x/wp-content/uploads/2024/01/img-640.jpg 640w,` +
		` https://x/wp-content/uploads/2024/01/img-1024.jpg 1024w" sizes="100vw">`

	out, err := r.RewriteImageTag(tag, convert.FileSet{models.FormatAVIF: "/up/2024/01/img-1024.avif"})
	require.NoError(t, err)

	assert.Contains(t, out, "img-320.avif 320w")
	assert.Contains(t, out, "img-640.avif 640w")
	assert.NotContains(t, out, "img-1024.avif", "missing width dropped from the candidate list")

	// The original fallback keeps all three widths.
	assert.Contains(t, out, "img-320.jpg 320w")
	assert.Contains(t, out, "img-640.jpg 640w")
	assert.Contains(t, out, "img-1024.jpg 1024w")

	// sizes carries over to the candidate source.
	assert.Contains(t, out, `sizes="100vw"`)
}

func TestRewriteImageTag_ForeignHostKeepsOnlyMainSrc(t *testing.T) {
	r := newRewriter(t)
	tag := `<img src="https://cdn.example.net/2024/01/img.jpg"` +
		` srcset="https://cdn.example.net/2024/01/img-320.jpg 320w, https://cdn.example.net/2024/01/img.jpg 640w">`

	out, err := r.RewriteImageTag(tag, convert.FileSet{models.FormatWebP: "/up/2024/01/img.webp"})
	require.NoError(t, err)

	// Off-host widths have no disk check, so only the candidate equal
	// to the main src is substituted from the ledger.
	assert.Contains(t, out, `https://cdn.example.net/2024/01/img.webp 640w`)
	assert.NotContains(t, out, "img-320.webp")
	assert.Contains(t, out, `src="https://cdn.example.net/2024/01/img.jpg"`)
}

func TestRewriteImageTag_ForeignHostWidthsAloneAreNotTrusted(t *testing.T) {
	r := newRewriter(t)
	// None of the srcset widths matches the main src, so a tracked
	// format alone cannot vouch for any of them.
	tag := `<img src="https://cdn.example.net/2024/01/other.jpg" srcset="https://cdn.example.net/2024/01/img-320.jpg 320w, https://cdn.example.net/2024/01/img-640.jpg 640w">`

	out, err := r.RewriteImageTag(tag, convert.FileSet{models.FormatWebP: "/up/2024/01/img.webp"})
	require.NoError(t, err)
	assert.Equal(t, tag, out)
}

func TestRewriteImageTag_NoFilesIsNoOp(t *testing.T) {
	r := newRewriter(t)
	tag := `<img src="https://x/wp-content/uploads/2024/01/img.jpg">`

	out, err := r.RewriteImageTag(tag, nil)
	require.NoError(t, err)
	assert.Equal(t, tag, out)
}

func TestRewriteImageTag_NoUsableCandidatesIsNoOp(t *testing.T) {
	// Files are tracked but nothing exists on disk anymore.
	r := newRewriter(t)
	tag := `<img src="https://x/wp-content/uploads/2024/01/img.jpg">`

	out, err := r.RewriteImageTag(tag, imageFiles())
	require.NoError(t, err)
	assert.Equal(t, tag, out)
}

func TestRewriteImageTag_RelativeURL(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/img.webp")
	tag := `<img src="/wp-content/uploads/2024/01/img.jpg">`

	out, err := r.RewriteImageTag(tag, convert.FileSet{models.FormatWebP: "/up/2024/01/img.webp"})
	require.NoError(t, err)
	assert.Contains(t, out, `srcset="/wp-content/uploads/2024/01/img.webp"`)
}

func TestRewriteVideoTag_SourceOrdering(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/clip.mp4", "/up/2024/01/clip.webm")
	tag := `<video src="https://x/wp-content/uploads/2024/01/clip.mov" controls poster="p.jpg"></video>`
	files := convert.FileSet{
		models.FormatAV1:  "/up/2024/01/clip.mp4",
		models.FormatWebM: "/up/2024/01/clip.webm",
	}

	out, err := r.RewriteVideoTag(tag, files)
	require.NoError(t, err)

	av1 := strings.Index(out, "clip.mp4")
	webm := strings.Index(out, "clip.webm")
	original := strings.Index(out, "clip.mov")
	require.True(t, av1 >= 0 && webm >= 0 && original >= 0, out)
	assert.Less(t, av1, webm, "AV1 precedes WebM")
	assert.Less(t, webm, original, "original is last")

	// src must move into a source child or it would override the list.
	assert.NotContains(t, out, `<video src=`)
	assert.Contains(t, out, `type="video/mp4"`)
	assert.Contains(t, out, `type="video/webm"`)
	assert.Contains(t, out, `type="video/quicktime"`)
	assert.Contains(t, out, "controls")
	assert.Contains(t, out, `poster="p.jpg"`)
}

func TestRewriteVideoTag_ExistingSourceChild(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/clip.webm")
	tag := `<video controls><source src="/wp-content/uploads/2024/01/clip.mp4" type="video/mp4"></video>`
	files := convert.FileSet{models.FormatWebM: "/up/2024/01/clip.webm"}

	out, err := r.RewriteVideoTag(tag, files)
	require.NoError(t, err)

	webm := strings.Index(out, "clip.webm")
	original := strings.Index(out, "clip.mp4")
	require.True(t, webm >= 0 && original >= 0, out)
	assert.Less(t, webm, original, "modern source precedes the original child")
}

func TestRewriteVideoTag_NoFilesIsNoOp(t *testing.T) {
	r := newRewriter(t)
	tag := `<video src="https://x/wp-content/uploads/2024/01/clip.mov"></video>`

	out, err := r.RewriteVideoTag(tag, nil)
	require.NoError(t, err)
	assert.Equal(t, tag, out)
}

func TestRewriteContent_MixedFragment(t *testing.T) {
	r := newRewriter(t, "/up/2024/01/img.avif", "/up/2024/01/img.webp")
	content := `<p>Intro text.</p>` +
		`<img src="https://x/wp-content/uploads/2024/01/img.jpg" alt="a cat">` +
		`<img src="https://elsewhere.example/logo.png">` +
		`<p>Outro.</p>`

	lookup := func(_ context.Context, src string) (convert.FileSet, error) {
		if strings.Contains(src, "2024/01/img.jpg") {
			return imageFiles(), nil
		}
		return nil, nil
	}

	out, err := r.RewriteContent(context.Background(), content, lookup)
	require.NoError(t, err)

	assert.Contains(t, out, "<picture>")
	assert.Contains(t, out, "<p>Intro text.</p>")
	assert.Contains(t, out, "<p>Outro.</p>")
	assert.Contains(t, out, `<img src="https://elsewhere.example/logo.png">`, "unknown reference untouched")
	assert.Equal(t, 1, strings.Count(out, "<picture>"))
}

func TestRewriteContent_NoMatchesReturnsInputVerbatim(t *testing.T) {
	r := newRewriter(t)
	content := `<p>Nothing to do</p><img src="/wp-content/themes/logo.svg">`

	out, err := r.RewriteContent(context.Background(), content, func(context.Context, string) (convert.FileSet, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, content, out)
}
