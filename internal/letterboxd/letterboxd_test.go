package letterboxd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func TestParsePage_SlugsAndPageCount(t *testing.T) {
	slugs, pages, err := ParsePage(readFixture(t, "page1.html"))
	if err != nil {
		t.Fatalf("ParsePage 失败：%v", err)
	}
	want := []string{"se7en", "dune-part-two", "nineteen-eighty-four-1984"}
	if strings.Join(slugs, ",") != strings.Join(want, ",") {
		t.Fatalf("slugs 期望 %q，实际 %q", want, slugs)
	}
	if pages != 3 {
		t.Fatalf("期望 3 页，实际 %d", pages)
	}
}

func TestParsePage_DefaultsToOnePage(t *testing.T) {
	for _, name := range []string{"single.html", "bad_pagination.html"} {
		slugs, pages, err := ParsePage(readFixture(t, name))
		if err != nil {
			t.Fatalf("%s: ParsePage 失败：%v", name, err)
		}
		if pages != 1 {
			t.Fatalf("%s: 期望 1 页，实际 %d", name, pages)
		}
		if len(slugs) != 1 {
			t.Fatalf("%s: 期望 1 个 slug，实际 %q", name, slugs)
		}
	}
}

func TestPageURL_EscapesUser(t *testing.T) {
	s := Scraper{BaseURL: "https://example.test/"}
	if got := s.PageURL("alice", 1); got != "https://example.test/alice/watchlist/" {
		t.Fatalf("page 1 URL 不符合预期：%q", got)
	}
	if got := s.PageURL("alice", 3); got != "https://example.test/alice/watchlist/page/3/" {
		t.Fatalf("page 3 URL 不符合预期：%q", got)
	}
	if got := s.PageURL("a b/c", 1); got != "https://example.test/a%20b%2Fc/watchlist/" {
		t.Fatalf("用户名未转义：%q", got)
	}
}

// watchlistServer 模拟 N 页 watchlist，每页 per 个 slug：p<page>-<i>。
func watchlistServer(t *testing.T, user string, pages, per int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)

		page := 1
		prefix := "/" + user + "/watchlist/"
		switch {
		case r.URL.Path == prefix:
		case strings.HasPrefix(r.URL.Path, prefix+"page/"):
			if _, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, prefix+"page/"), "%d/", &page); err != nil {
				http.NotFound(w, r)
				return
			}
		default:
			http.NotFound(w, r)
			return
		}

		var b strings.Builder
		b.WriteString(`<html><body><ul class="poster-list">`)
		for i := 0; i < per; i++ {
			fmt.Fprintf(&b, `<li><div class="film-poster" data-film-slug="p%d-%d"></div></li>`, page, i)
		}
		b.WriteString(`</ul>`)
		if pages > 1 {
			b.WriteString(`<div class="paginate-pages"><ul>`)
			for p := 1; p <= pages; p++ {
				fmt.Fprintf(&b, `<li><a href="#">%d</a></li>`, p)
			}
			b.WriteString(`</ul></div>`)
		}
		b.WriteString(`</body></html>`)
		_, _ = w.Write([]byte(b.String()))
	}))
}

func TestWatchlist_ExactlyNFetchesInOrder(t *testing.T) {
	var hits int32
	srv := watchlistServer(t, "alice", 3, 2, &hits)
	defer srv.Close()

	var pagesSeen []int
	s := Scraper{
		BaseURL: srv.URL,
		Client:  srv.Client(),
		OnPage: func(user string, page, total, count int) {
			if user != "alice" || total != 3 || count != 2 {
				t.Fatalf("OnPage 参数不符合预期：user=%s page=%d total=%d count=%d", user, page, total, count)
			}
			pagesSeen = append(pagesSeen, page)
		},
	}

	got, err := s.Watchlist(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Watchlist 失败：%v", err)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("3 页列表期望正好 3 次请求，实际 %d", hits)
	}
	if len(got) != 6 {
		t.Fatalf("期望 6 条（各页之和），实际 %d", len(got))
	}
	if got[0].Slug != "p1-0" || got[5].Slug != "p3-1" {
		t.Fatalf("顺序不符合预期：first=%q last=%q", got[0].Slug, got[5].Slug)
	}
	if got[0].Title != "p1 0" || got[0].User != "alice" {
		t.Fatalf("entry 字段不符合预期：%+v", got[0])
	}
	if fmt.Sprint(pagesSeen) != "[1 2 3]" {
		t.Fatalf("OnPage 顺序不符合预期：%v", pagesSeen)
	}
}

func TestWatchlist_SinglePage(t *testing.T) {
	var hits int32
	srv := watchlistServer(t, "bob", 1, 4, &hits)
	defer srv.Close()

	got, err := Scraper{BaseURL: srv.URL, Client: srv.Client()}.Watchlist(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Watchlist 失败：%v", err)
	}
	if atomic.LoadInt32(&hits) != 1 || len(got) != 4 {
		t.Fatalf("期望 1 次请求 4 条，实际 hits=%d n=%d", hits, len(got))
	}
}

func TestWatchlist_HTTPErrorIsFetchError(t *testing.T) {
	var hits int32
	srv := watchlistServer(t, "alice", 1, 1, &hits)
	defer srv.Close()

	_, err := Scraper{BaseURL: srv.URL, Client: srv.Client()}.Watchlist(context.Background(), "nobody")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("期望 *FetchError，实际 %T %v", err, err)
	}
	if fe.StatusCode != http.StatusNotFound || fe.Page != 1 || fe.User != "nobody" {
		t.Fatalf("FetchError 字段不符合预期：%+v", fe)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("失败后不应重试，实际请求 %d 次", hits)
	}
}

func TestWatchlist_Validation(t *testing.T) {
	if _, err := (Scraper{Client: http.DefaultClient}).Watchlist(context.Background(), " "); err == nil {
		t.Fatalf("空用户名期望错误")
	}
	if _, err := (Scraper{}).Watchlist(context.Background(), "alice"); err == nil {
		t.Fatalf("nil client 期望错误")
	}
}
