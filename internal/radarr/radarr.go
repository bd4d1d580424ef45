package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/logging"
)

const (
	DefaultRootFolder       = "/movies"
	DefaultQualityProfileID = 1

	// movieExistsCode 是 Radarr 对“该 TMDB id 已在库中”的校验错误码。
	movieExistsCode = "MovieExistsValidator"

	maxErrorBody = 8 << 10
)

// AddError 表示 Radarr 以非 2xx 拒绝了添加请求（且不是“已存在”）。
// 编排层把它记入 sync log 后继续处理下一条。
type AddError struct {
	Title  string
	TMDBID int
	Status int
	Body   string
}

func (e *AddError) Error() string {
	return fmt.Sprintf("radarr add %q (tmdb=%d): HTTP %d: %s", e.Title, e.TMDBID, e.Status, truncate(e.Body, 200))
}

// Client 是 Radarr v3 API 的最小客户端（列出 / 添加电影）。
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	RootFolder       string
	QualityProfileID int

	Log logrus.FieldLogger
}

type addOptions struct {
	SearchForMovie bool `json:"searchForMovie"`
}

// AddRequest 是 POST /api/v3/movie 的请求体。
type AddRequest struct {
	Title            string     `json:"title"`
	TMDBID           int        `json:"tmdbId"`
	Year             int        `json:"year,omitempty"`
	QualityProfileID int        `json:"qualityProfileId"`
	RootFolderPath   string     `json:"rootFolderPath"`
	Monitored        bool       `json:"monitored"`
	AddOptions       addOptions `json:"addOptions"`
}

type validationFailure struct {
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

func (c Client) url(path string) string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + path
}

func (c Client) log() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logging.Discard()
}

// List 拉取当前媒体库的完整快照。
//
// 网络错误返回 error（上层视为致命）；响应无法解析或非 2xx 时只告警，返回空快照（fail open）。
func (c Client) List(ctx context.Context) ([]domain.RegistryRecord, error) {
	if c.HTTP == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/v3/movie"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build radarr list request")
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "radarr list")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log().WithError(err).Warn("read radarr library failed, continuing with empty library")
		return []domain.RegistryRecord{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log().WithField("status", resp.StatusCode).Warn("radarr library request rejected, continuing with empty library")
		return []domain.RegistryRecord{}, nil
	}

	var recs []domain.RegistryRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		c.log().WithError(err).Warn("parse radarr library failed, continuing with empty library")
		return []domain.RegistryRecord{}, nil
	}
	if recs == nil {
		recs = []domain.RegistryRecord{}
	}
	return recs, nil
}

// NewAddRequest 由元数据构造添加请求；release date 可解析时带上年份。
func (c Client) NewAddRequest(m domain.MetadataMatch) AddRequest {
	root := strings.TrimSpace(c.RootFolder)
	if root == "" {
		root = DefaultRootFolder
	}
	qp := c.QualityProfileID
	if qp <= 0 {
		qp = DefaultQualityProfileID
	}
	return AddRequest{
		Title:            m.Title,
		TMDBID:           m.ID,
		Year:             yearFromRelease(m.ReleaseDate),
		QualityProfileID: qp,
		RootFolderPath:   root,
		Monitored:        true,
		AddOptions:       addOptions{SearchForMovie: true},
	}
}

// Add 把电影登记到 Radarr 并触发自动搜索。
//
// - 2xx：成功
// - 非 2xx 且响应体包含 MovieExistsValidator：视为成功（幂等）
// - 其它非 2xx：返回 *AddError
// - 网络错误：返回普通 error（上层视为致命）
func (c Client) Add(ctx context.Context, m domain.MetadataMatch) error {
	if c.HTTP == nil {
		return errors.New("http client 不能为空")
	}
	body, err := json.Marshal(c.NewAddRequest(m))
	if err != nil {
		return errors.Wrap(err, "encode radarr add request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/v3/movie"), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build radarr add request")
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "radarr add %q", m.Title)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	rb, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if IsAlreadyExists(rb) {
		return nil
	}
	return &AddError{
		Title:  m.Title,
		TMDBID: m.ID,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(rb)),
	}
}

// IsAlreadyExists 判断错误响应体是否为“电影已存在”的校验失败列表。
func IsAlreadyExists(body []byte) bool {
	var vf []validationFailure
	if err := json.Unmarshal(body, &vf); err != nil {
		return false
	}
	for _, f := range vf {
		if strings.EqualFold(strings.TrimSpace(f.ErrorCode), movieExistsCode) {
			return true
		}
		if strings.Contains(strings.ToLower(f.ErrorMessage), "already been added") {
			return true
		}
	}
	return false
}

func yearFromRelease(release string) int {
	release = strings.TrimSpace(release)
	if release == "" {
		return 0
	}
	t, err := time.Parse("2006-01-02", release)
	if err != nil {
		return 0
	}
	return t.Year()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
