package domain

import "github.com/John-Robertt/wlsync/internal/title"

// WatchlistEntry 是从 watchlist 页面抓到的一条候选（一次性数据，查完即丢）。
type WatchlistEntry struct {
	User  string
	Slug  string
	Title string // slug 中的 '-' 替换为空格
}

// MetadataMatch 是元数据搜索的最佳（第一条）结果。
type MetadataMatch struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date,omitempty"` // "2006-01-02"，可能为空
}

// RegistryRecord 是媒体库中已存在的条目。
type RegistryRecord struct {
	Title  string `json:"title"`
	TMDBID int    `json:"tmdbId"`
}

// Library 是一次运行开始时拉取的媒体库只读快照。
//
// 约束：运行期间不回刷（新添加的条目不会出现在快照里），重复添加由 registry 的“已存在”响应兜底。
type Library struct {
	byTitle map[string]struct{}
	byID    map[int]struct{}
	n       int
}

func NewLibrary(recs []RegistryRecord) Library {
	l := Library{
		byTitle: make(map[string]struct{}, len(recs)),
		byID:    make(map[int]struct{}, len(recs)),
		n:       len(recs),
	}
	for _, r := range recs {
		if k := title.Key(r.Title); k != "" {
			l.byTitle[k] = struct{}{}
		}
		if r.TMDBID > 0 {
			l.byID[r.TMDBID] = struct{}{}
		}
	}
	return l
}

// HasTitle 做大小写不敏感的精确匹配（不做模糊/去标点）。
func (l Library) HasTitle(t string) bool {
	k := title.Key(t)
	if k == "" || l.byTitle == nil {
		return false
	}
	_, ok := l.byTitle[k]
	return ok
}

func (l Library) HasTMDBID(id int) bool {
	if id <= 0 || l.byID == nil {
		return false
	}
	_, ok := l.byID[id]
	return ok
}

func (l Library) Len() int { return l.n }
