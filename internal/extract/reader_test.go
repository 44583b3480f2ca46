package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	raw := "  First   line \r\n\r\n Second\tline \n\n\n Third "
	want := "First line\n\nSecond line\n\nThird"
	if got := CleanText(raw); got != want {
		t.Fatalf("CleanText = %q, want %q", got, want)
	}
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><head><style>p{color:red}</style></head><body>
		<nav>Home | About</nav>
		<h1>Quarterly results</h1>
		<p>Revenue grew in the third quarter.</p>
		<script>track()</script>
		<p>Margins stayed flat.</p>
		<footer>Copyright</footer>
	</body></html>`)

	got := htmlToText(raw)
	want := "Quarterly results\n\nRevenue grew in the third quarter.\n\nMargins stayed flat."
	if got != want {
		t.Fatalf("htmlToText = %q, want %q", got, want)
	}
}

func TestHTMLToText_NoStructure(t *testing.T) {
	t.Parallel()

	got := htmlToText([]byte(`<html><body>just a bare text node</body></html>`))
	if got != "just a bare text node" {
		t.Fatalf("htmlToText = %q", got)
	}
}

func TestMaybeHTML(t *testing.T) {
	t.Parallel()

	if !maybeHTML("<p>hello</p>") {
		t.Fatalf("expected markup to be detected")
	}
	if maybeHTML("plain text, 2 < 3 sometimes") {
		t.Fatalf("expected plain text to pass through")
	}
}

func TestFetchArticleText_PlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("A plain\r\ntext article body.\n"))
	}))
	defer srv.Close()

	got, err := fetchArticleText(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("fetchArticleText: %v", err)
	}
	if got != "A plain\n\ntext article body." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestFetchArticleText_HTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Story</title></head><body>
			<article>
				<h1>Data center expansion announced</h1>
				<p>The operator said construction begins next spring and will add capacity across three regions.</p>
				<p>Local officials welcomed the investment while flagging grid constraints.</p>
			</article>
		</body></html>`))
	}))
	defer srv.Close()

	got, err := fetchArticleText(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("fetchArticleText: %v", err)
	}
	if !strings.Contains(got, "construction begins next spring") {
		t.Fatalf("expected article body in output, got %q", got)
	}
}

func TestFetchArticleText_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	if _, err := fetchArticleText(context.Background(), srv.URL, FetchOptions{}); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	if got := wordCount("one  two\nthree"); got != 3 {
		t.Fatalf("wordCount = %d, want 3", got)
	}
	if got := wordCount("   "); got != 0 {
		t.Fatalf("wordCount = %d, want 0", got)
	}
}
