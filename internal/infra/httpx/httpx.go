package httpx

import (
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 默认不重试（RetryMax 零值）：抓取/搜索失败直接交给上层决定是否中止。
const defaultTimeout = 20 * time.Second

// Transport 把“UA 池 + 代理 + 限速 + 有界重试”固化为统一策略。
//
// scraper/client 只负责“拼 URL + 解析响应”，不关心网络策略细节。
type Transport struct {
	Base *http.Transport

	// ua 为 nil 时不注入 User-Agent（API 客户端用 Go 默认 UA 即可）。
	ua *uaPool

	// Limiter 非 nil 时，每次实际发出请求前都要先拿到令牌（包括重试）。
	Limiter *rate.Limiter

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int

	// DisableKeepAlives 决定是否对 Request 设置 Close=true。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
		}

		r := req.Clone(req.Context())
		if t.ua != nil && r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", t.ua.random())
		}
		if t.DisableKeepAlives {
			r.Close = true
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// Options 描述一个 client 的网络策略。零值即“直连、不限速、不重试、默认超时”。
type Options struct {
	ProxyURL string

	// BrowserUA 为 true 时每个请求随机挑一个浏览器 UA（抓取公开页面用）。
	BrowserUA bool

	// RatePerSecond<=0 表示不限速；Burst<1 时按 1 处理。
	RatePerSecond float64
	Burst         int

	RetryMax int
	Timeout  time.Duration
}

// NewScrapeClient 构造用于抓取 watchlist 页面的 client：浏览器 UA + 可选代理。
func NewScrapeClient(proxyURL string, retryMax int) (*http.Client, error) {
	return NewClient(Options{
		ProxyURL:  strings.TrimSpace(proxyURL),
		BrowserUA: true,
		RetryMax:  retryMax,
	})
}

// NewAPIClient 构造用于 JSON API 的 client，rps>0 时启用客户端限速。
func NewAPIClient(proxyURL string, rps float64) (*http.Client, error) {
	return NewClient(Options{
		ProxyURL:      strings.TrimSpace(proxyURL),
		RatePerSecond: rps,
		Burst:         1,
	})
}

func NewClient(o Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}

	disableKeepAlives := false
	if o.ProxyURL != "" {
		u, err := url.Parse(o.ProxyURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy url 缺少 scheme 或 host：" + o.ProxyURL)
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	retryMax := o.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	tr := &Transport{
		Base:              base,
		RetryMax:          retryMax,
		DisableKeepAlives: disableKeepAlives,
	}
	if o.BrowserUA {
		tr.ua = globalUA
	}
	if o.RatePerSecond > 0 {
		burst := o.Burst
		if burst < 1 {
			burst = 1
		}
		tr.Limiter = rate.NewLimiter(rate.Limit(o.RatePerSecond), burst)
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
