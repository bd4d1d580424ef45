package letterboxd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/title"
)

const DefaultBaseURL = "https://letterboxd.com"

// poster 元素：老版页面是 .poster-list .film-poster[data-film-slug]，
// 新版页面把 slug 放在 data-item-slug 上。两种写法都认。
const (
	posterSelector     = ".poster-list .film-poster, .poster-list [data-item-slug]"
	paginationSelector = ".paginate-pages li"
)

// FetchError 表示某一页 watchlist 抓取失败（网络错误、非 2xx、HTML 无法解析）。
// 编排层把它视为致命错误：不重试、不跳过。
type FetchError struct {
	User       string
	Page       int
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("watchlist user=%s page=%d: HTTP %d", e.User, e.Page, e.StatusCode)
	}
	return fmt.Sprintf("watchlist user=%s page=%d: %v", e.User, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PageFunc 在每页解析完成后被调用（用于进度输出）。
type PageFunc func(user string, page, total, count int)

// Scraper 抓取公开 watchlist 页面。
//
// 约束：
// - 页面严格按顺序抓取，一次只有一个请求在途
// - 第 1 页的文档被复用：N 页的列表正好产生 N 次请求
// - 不做缓存/重试（网络策略由 httpx 统一控制）
type Scraper struct {
	BaseURL string
	Client  *http.Client
	OnPage  PageFunc
}

func (s Scraper) baseURL() string {
	u := strings.TrimSpace(s.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// PageURL 返回某用户第 page 页的 URL；用户名做 path 转义。
func (s Scraper) PageURL(user string, page int) string {
	u := s.baseURL() + "/" + url.PathEscape(user) + "/watchlist/"
	if page > 1 {
		u += "page/" + strconv.Itoa(page) + "/"
	}
	return u
}

// Watchlist 返回用户 watchlist 中的全部候选标题（保持页面顺序，不去重）。
func (s Scraper) Watchlist(ctx context.Context, user string) ([]domain.WatchlistEntry, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("username 不能为空")
	}
	if s.Client == nil {
		return nil, errors.New("http client 不能为空")
	}

	first, err := s.fetchPage(ctx, user, 1)
	if err != nil {
		return nil, err
	}
	slugs, total, err := ParsePage(first)
	if err != nil {
		return nil, &FetchError{User: user, Page: 1, URL: s.PageURL(user, 1), Err: err}
	}

	out := make([]domain.WatchlistEntry, 0, len(slugs)*total)
	out = appendEntries(out, user, slugs)
	s.report(user, 1, total, len(slugs))

	for page := 2; page <= total; page++ {
		b, err := s.fetchPage(ctx, user, page)
		if err != nil {
			return nil, err
		}
		slugs, _, err := ParsePage(b)
		if err != nil {
			return nil, &FetchError{User: user, Page: page, URL: s.PageURL(user, page), Err: err}
		}
		out = appendEntries(out, user, slugs)
		s.report(user, page, total, len(slugs))
	}
	return out, nil
}

func (s Scraper) report(user string, page, total, count int) {
	if s.OnPage != nil {
		s.OnPage(user, page, total, count)
	}
}

func appendEntries(dst []domain.WatchlistEntry, user string, slugs []string) []domain.WatchlistEntry {
	for _, slug := range slugs {
		dst = append(dst, domain.WatchlistEntry{
			User:  user,
			Slug:  slug,
			Title: title.FromSlug(slug),
		})
	}
	return dst
}

func (s Scraper) fetchPage(ctx context.Context, user string, page int) ([]byte, error) {
	u := s.PageURL(user, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{User: user, Page: page, URL: u, Err: err}
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &FetchError{User: user, Page: page, URL: u, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{User: user, Page: page, URL: u, Err: errors.Wrap(err, "read body")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{User: user, Page: page, URL: u, StatusCode: resp.StatusCode, Err: errors.Errorf("HTTP %d", resp.StatusCode)}
	}
	return b, nil
}

// ParsePage 从 watchlist 页面 HTML 中提取 slug 列表与总页数。
//
// 纯函数：相同输入 => 相同输出。分页控件缺失或无法解析时总页数为 1。
func ParsePage(html []byte) (slugs []string, pages int, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, 0, err
	}

	slugs = make([]string, 0, 32)
	doc.Find(posterSelector).Each(func(_ int, sel *goquery.Selection) {
		slug := strings.TrimSpace(sel.AttrOr("data-film-slug", ""))
		if slug == "" {
			slug = strings.TrimSpace(sel.AttrOr("data-item-slug", ""))
		}
		if slug != "" {
			slugs = append(slugs, slug)
		}
	})

	return slugs, parsePageCount(doc), nil
}

func parsePageCount(doc *goquery.Document) int {
	last := doc.Find(paginationSelector).Last()
	if last.Length() == 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(last.Text()))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
