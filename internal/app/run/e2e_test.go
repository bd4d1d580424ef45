package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/infra/httpx"
	"github.com/John-Robertt/wlsync/internal/letterboxd"
	"github.com/John-Robertt/wlsync/internal/radarr"
	"github.com/John-Robertt/wlsync/internal/synclog"
	"github.com/John-Robertt/wlsync/internal/tmdb"
)

const posterPage = `<!DOCTYPE html><html><body>
<ul class="poster-list">%s</ul>
<div class="paginate-pages"><ul><li><a>1</a></li><li><a>2</a></li></ul></div>
</body></html>`

func poster(slug string) string {
	return fmt.Sprintf(`<li><div class="film-poster" data-film-slug="%s"></div></li>`, slug)
}

// fakeWorld 同时模拟 watchlist 站点、TMDB 与 Radarr。
type fakeWorld struct {
	mu      sync.Mutex
	library []domain.RegistryRecord
	posts   []radarr.AddRequest
}

func (w *fakeWorld) letterboxd() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/alice/watchlist/", func(rw http.ResponseWriter, r *http.Request) {
		var items string
		switch r.URL.Path {
		case "/alice/watchlist/":
			items = poster("heat") + poster("the-prestige-2006")
		case "/alice/watchlist/page/2/":
			items = poster("not-a-real-movie") + poster("old-boy") + poster("rejected-film")
		default:
			http.NotFound(rw, r)
			return
		}
		fmt.Fprintf(rw, posterPage, items)
	})
	return mux
}

func (w *fakeWorld) tmdb() http.Handler {
	results := map[string][]map[string]any{
		"the prestige":  {{"id": 1124, "title": "The Prestige", "release_date": "2006-10-17"}},
		"old boy":       {{"id": 670, "title": "Oldboy", "release_date": "2003-11-21"}},
		"rejected film": {{"id": 66, "title": "Rejected Film"}},
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/movie" || r.URL.Query().Get("api_key") != "tk" {
			http.Error(rw, "bad request", http.StatusUnauthorized)
			return
		}
		res := results[r.URL.Query().Get("query")]
		if res == nil {
			res = []map[string]any{}
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"results": res})
	})
}

func (w *fakeWorld) radarr() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "rk" || r.URL.Path != "/api/v3/movie" {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(rw).Encode(w.library)
		case http.MethodPost:
			b, _ := io.ReadAll(r.Body)
			var req radarr.AddRequest
			if err := json.Unmarshal(b, &req); err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			if req.TMDBID == 66 {
				rw.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(rw, `[{"propertyName":"RootFolderPath","errorMessage":"Root folder does not exist"}]`)
				return
			}
			for _, m := range w.library {
				if m.TMDBID == req.TMDBID {
					rw.WriteHeader(http.StatusBadRequest)
					_, _ = io.WriteString(rw, `[{"propertyName":"TmdbId","errorMessage":"This movie has already been added","errorCode":"MovieExistsValidator"}]`)
					return
				}
			}
			w.posts = append(w.posts, req)
			w.library = append(w.library, domain.RegistryRecord{Title: req.Title, TMDBID: req.TMDBID})
			rw.WriteHeader(http.StatusCreated)
			_, _ = rw.Write(b)
		default:
			http.Error(rw, "method", http.StatusMethodNotAllowed)
		}
	})
}

func TestExecute_EndToEnd(t *testing.T) {
	world := &fakeWorld{library: []domain.RegistryRecord{{Title: "Heat", TMDBID: 949}}}
	lb := httptest.NewServer(world.letterboxd())
	defer lb.Close()
	tm := httptest.NewServer(world.tmdb())
	defer tm.Close()
	rd := httptest.NewServer(world.radarr())
	defer rd.Close()

	scrapeClient, err := httpx.NewScrapeClient("", 0)
	if err != nil {
		t.Fatalf("NewScrapeClient: %v", err)
	}
	apiClient, err := httpx.NewAPIClient("", 0)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "sync-log.json")
	sink := synclog.NewFileLog(logPath, nil)
	sink.Reset()

	deps := Deps{
		Scraper:  letterboxd.Scraper{BaseURL: lb.URL, Client: scrapeClient},
		Resolver: tmdb.Client{BaseURL: tm.URL, APIKey: "tk", HTTP: apiClient},
		Registry: radarr.Client{BaseURL: rd.URL, APIKey: "rk", HTTP: apiClient, RootFolder: "/movies", QualityProfileID: 4},
		Sink:     sink,
		RunID:    "e2e",
	}

	rr, err := Execute(context.Background(), deps, []string{"alice"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []string{
		domain.StatusSkipped,
		domain.StatusAdded,
		domain.StatusNotFound,
		domain.StatusAdded,
		domain.StatusFailed,
	}
	if got := statuses(rr); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("状态不符合预期：got=%v want=%v", got, want)
	}

	if len(world.posts) != 2 {
		t.Fatalf("期望 2 次成功添加，实际 %d", len(world.posts))
	}
	p := world.posts[0]
	if p.TMDBID != 1124 || p.Year != 2006 || p.QualityProfileID != 4 || p.RootFolderPath != "/movies" || !p.Monitored || !p.AddOptions.SearchForMovie {
		t.Fatalf("添加请求不符合预期：%+v", p)
	}

	f, err := synclog.Read(logPath)
	if err != nil {
		t.Fatalf("读取 sync log 失败：%v", err)
	}
	if strings.Join(f.NotFoundOnTmdb, "|") != "not a real movie" {
		t.Fatalf("notFoundOnTmdb 不符合预期：%q", f.NotFoundOnTmdb)
	}
	if len(f.RadarrFailures) != 1 || f.RadarrFailures[0].TMDBID != 66 || f.RadarrFailures[0].Status != http.StatusBadRequest {
		t.Fatalf("radarrFailures 不符合预期：%+v", f.RadarrFailures)
	}

	// 第二次运行：库中已有全部可添加的条目，不应再产生新增。
	sink.Reset()
	rr2, err := Execute(context.Background(), deps, []string{"alice"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr2.Summary.Added != 0 {
		t.Fatalf("第二次运行不应新增：%+v", rr2.Summary)
	}
	if len(world.posts) != 2 {
		t.Fatalf("第二次运行不应 POST 成功，实际 %d", len(world.posts))
	}
}

func TestExecute_CISuppressesSyncLog(t *testing.T) {
	world := &fakeWorld{}
	lb := httptest.NewServer(world.letterboxd())
	defer lb.Close()
	tm := httptest.NewServer(world.tmdb())
	defer tm.Close()
	rd := httptest.NewServer(world.radarr())
	defer rd.Close()

	logPath := filepath.Join(t.TempDir(), "sync-log.json")
	synclog.NewFileLog(logPath, nil).Reset()

	deps := Deps{
		Scraper:  letterboxd.Scraper{BaseURL: lb.URL, Client: http.DefaultClient},
		Resolver: tmdb.Client{BaseURL: tm.URL, APIKey: "tk", HTTP: http.DefaultClient},
		Registry: radarr.Client{BaseURL: rd.URL, APIKey: "rk", HTTP: http.DefaultClient},
		Sink:     synclog.Discard{},
	}
	rr, err := Execute(context.Background(), deps, []string{"alice"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Summary.NotFound != 1 || rr.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}

	f, err := synclog.Read(logPath)
	if err != nil {
		t.Fatalf("读取 sync log 失败：%v", err)
	}
	if len(f.NotFoundOnTmdb) != 0 || len(f.RadarrFailures) != 0 {
		t.Fatalf("CI 环境下 sync log 应保持为空：%+v", f)
	}
}

func TestExecute_RejectedSearchContinues(t *testing.T) {
	lb := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(rw, `<ul class="poster-list">%s%s</ul>`, poster("1984"), poster("heat"))
	}))
	defer lb.Close()
	// 空关键词时 TMDB 返回 422 + JSON 错误体。
	tm := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "" {
			rw.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(rw, `{"status_code":22,"status_message":"Invalid parameters: query must be provided","success":false}`)
			return
		}
		_, _ = io.WriteString(rw, `{"results":[{"id":949,"title":"Heat","release_date":"1995-12-15"}]}`)
	}))
	defer tm.Close()
	world := &fakeWorld{}
	rd := httptest.NewServer(world.radarr())
	defer rd.Close()

	mem := &synclog.Memory{}
	deps := Deps{
		Scraper:  letterboxd.Scraper{BaseURL: lb.URL, Client: http.DefaultClient},
		Resolver: tmdb.Client{BaseURL: tm.URL, APIKey: "tk", HTTP: http.DefaultClient},
		Registry: radarr.Client{BaseURL: rd.URL, APIKey: "rk", HTTP: http.DefaultClient},
		Sink:     mem,
	}
	rr, err := Execute(context.Background(), deps, []string{"alice"}, nil)
	if err != nil {
		t.Fatalf("被拒绝的搜索不应中止运行：%v", err)
	}
	if rr.Aborted != "" {
		t.Fatalf("不应标记 aborted：%q", rr.Aborted)
	}
	want := []string{domain.StatusNotFound, domain.StatusAdded}
	if got := statuses(rr); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("状态不符合预期：got=%v want=%v", got, want)
	}
	if strings.Join(mem.NotFounds, "|") != "1984 (searched: )" {
		t.Fatalf("not found 记录不符合预期：%q", mem.NotFounds)
	}
	if len(world.posts) != 1 || world.posts[0].TMDBID != 949 {
		t.Fatalf("期望 heat 被添加，实际 %+v", world.posts)
	}
}
