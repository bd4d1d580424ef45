package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewScrapeClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewScrapeClient("http://127.0.0.1:8080", 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("代理模式应禁用 keep-alive")
	}
	if tr.ua == nil {
		t.Fatalf("抓取 client 应启用 UA 池")
	}
}

func TestNewAPIClient_NoProxyWithLimiter(t *testing.T) {
	c, err := NewAPIClient("", 20)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Limiter == nil {
		t.Fatalf("rps>0 时应启用限速")
	}
	if tr.ua != nil {
		t.Fatalf("API client 不应注入浏览器 UA")
	}
	if tr.RetryMax != 0 {
		t.Fatalf("默认不应重试，实际 RetryMax=%d", tr.RetryMax)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewScrapeClient("http://[::1", 0); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if _, err := NewAPIClient("not-a-url", 0); err == nil {
		t.Fatalf("缺少 scheme/host 时期望错误，但得到 nil")
	}
}

func TestTransport_SetsBrowserUA(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c, err := NewScrapeClient("", 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()

	ua, _ := gotUA.Load().(string)
	if !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Fatalf("期望浏览器 UA，实际 %q", ua)
	}
}

type flakyRT struct {
	calls int
	fails int
}

func (f *flakyRT) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("boom")
	}
	return &http.Response{StatusCode: 200, Body: http.NoBody, Request: req}, nil
}

func TestTransport_RetryOnlyReplayable(t *testing.T) {
	// Base 必须是 *http.Transport：借 RegisterProtocol 挂一个假 RoundTripper 来计数。
	f := &flakyRT{fails: 2}
	base := &http.Transport{}
	base.RegisterProtocol("fake", f)

	tr := &Transport{Base: base, RetryMax: 2}
	req, _ := http.NewRequest(http.MethodGet, "fake://x/y", nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("GET 应在重试后成功：%v", err)
	}
	resp.Body.Close()
	if f.calls != 3 {
		t.Fatalf("期望 3 次尝试，实际 %d", f.calls)
	}

	f2 := &flakyRT{fails: 1}
	base2 := &http.Transport{}
	base2.RegisterProtocol("fake", f2)
	tr2 := &Transport{Base: base2, RetryMax: 2}
	req2, _ := http.NewRequest(http.MethodPost, "fake://x/y", strings.NewReader("{}"))
	if _, err := tr2.RoundTrip(req2); err == nil {
		t.Fatalf("POST 不应重试，期望错误")
	}
	if f2.calls != 1 {
		t.Fatalf("POST 期望 1 次尝试，实际 %d", f2.calls)
	}
}

func TestNewClient_RetryMaxPassThrough(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 0},
		{2, 2},
		{-1, 0},
	}
	for _, tc := range cases {
		c, err := NewScrapeClient("", tc.in)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if got := c.Transport.(*Transport).RetryMax; got != tc.want {
			t.Fatalf("retryMax=%d：期望 RetryMax=%d，实际 %d", tc.in, tc.want, got)
		}
	}
}
