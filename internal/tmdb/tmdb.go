package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/logging"
)

const DefaultBaseURL = "https://api.themoviedb.org/3"

const maxBody = 1 << 20

// Error 表示一次搜索请求失败（网络错误，或响应体不是可解析的 JSON）。
type Error struct {
	Query      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tmdb search %q: HTTP %d", e.Query, e.StatusCode)
	}
	return fmt.Sprintf("tmdb search %q: %v", e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type searchResponse struct {
	Results []struct {
		ID          int    `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
	} `json:"results"`
}

// Client 是 TMDB 搜索客户端。限速交给 Client.HTTP 的 Transport（httpx）。
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	Log logrus.FieldLogger
}

func (c Client) log() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logging.Discard()
}

func (c Client) baseURL() string {
	u := strings.TrimSpace(c.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// SearchURL 返回搜索请求的完整 URL（api_key 与 query 都做 query 转义）。
func (c Client) SearchURL(query string) string {
	v := url.Values{}
	v.Set("api_key", c.APIKey)
	v.Set("query", query)
	return c.baseURL() + "/search/movie?" + v.Encode()
}

// SearchMovie 只取第一条结果：不翻页、不换关键词重试、不做二次确认。
// results 为空或缺失时 ok=false（与状态码无关）；网络错误或响应体无法解析时返回 *Error。
func (c Client) SearchMovie(ctx context.Context, query string) (m domain.MetadataMatch, ok bool, err error) {
	if c.HTTP == nil {
		return domain.MetadataMatch{}, false, errors.New("http client 不能为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(query), nil)
	if err != nil {
		return domain.MetadataMatch{}, false, &Error{Query: query, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.MetadataMatch{}, false, &Error{Query: query, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.MetadataMatch{}, false, &Error{Query: query, Err: errors.Wrap(err, "read search response")}
	}

	var sr searchResponse
	if err := json.Unmarshal(b, &sr); err != nil {
		e := &Error{Query: query, Err: errors.Wrap(err, "decode search response")}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			e.StatusCode = resp.StatusCode
		}
		return domain.MetadataMatch{}, false, e
	}
	// 非 2xx 但响应体是 JSON（例如空关键词返回 422 + status_message）：按“没有结果”处理，不中止整次运行。
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log().WithFields(logrus.Fields{"query": query, "status": resp.StatusCode}).Warn("tmdb search rejected, treating as no match")
	}
	if len(sr.Results) == 0 {
		return domain.MetadataMatch{}, false, nil
	}

	r := sr.Results[0]
	return domain.MetadataMatch{
		ID:          r.ID,
		Title:       r.Title,
		ReleaseDate: strings.TrimSpace(r.ReleaseDate),
	}, true, nil
}
