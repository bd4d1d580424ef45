package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const (
	// ErrCodeInvalid 表示配置无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissing 表示显式指定的配置文件不存在。
	ErrCodeMissing = "config_missing"
)

const (
	// DefaultFile 是未指定 --config 时尝试读取的配置文件（可选）。
	DefaultFile = "wlsync.toml"

	DefaultRootFolder       = "/movies"
	DefaultQualityProfileID = 1
	DefaultSyncLog          = "sync-log.json"
	DefaultLetterboxdURL    = "https://letterboxd.com"
	DefaultTMDBURL          = "https://api.themoviedb.org/3"
	// TMDB 官方上限约 50 req/s；顺序执行本来就远低于该值，这里只是兜底。
	DefaultTMDBRateLimit = 20.0
)

// envKeys 把环境变量映射到配置键；不在表里的变量一律忽略。
var envKeys = map[string]string{
	"RADARR_URL":                "radarr.url",
	"RADARR_API_KEY":            "radarr.api_key",
	"RADARR_ROOT_FOLDER":        "radarr.root_folder",
	"RADARR_QUALITY_PROFILE_ID": "radarr.quality_profile_id",
	"TMDB_API_KEY":              "tmdb.api_key",
	"TMDB_BASE_URL":             "tmdb.base_url",
	"TMDB_RATE_LIMIT":           "tmdb.rate_limit",
	"LETTERBOXD_USERS":          "letterboxd.users",
	"LETTERBOXD_BASE_URL":       "letterboxd.base_url",
	"ENVIRONMENT":               "environment",
	"CI":                        "ci",
	"SYNC_LOG_PATH":             "sync_log",
	"LOG_LEVEL":                 "log.level",
	"LOG_FILE":                  "log.file",
	"PROXY_URL":                 "proxy.url",
	"HTTP_RETRIES":              "http.retries",
	"SYNC_SCHEDULE":             "schedule",
	"PUSHOVER_TOKEN":            "pushover.token",
	"PUSHOVER_USER":             "pushover.user",
}

// CLIArgs 只包含 CLI 暴露的覆盖项，并保留“是否显式指定”的信息。
// 这能保证 --dry-run=false 可以覆盖配置里的 dry_run=true。
type CLIArgs struct {
	ConfigPath string

	Users    []string
	UsersSet bool

	DryRun    bool
	DryRunSet bool

	Schedule    string
	ScheduleSet bool
}

// FileConfig 是 koanf 合并（默认值 < 配置文件 < 环境变量）之后的原始结构。
type FileConfig struct {
	Radarr struct {
		URL              string `koanf:"url"`
		APIKey           string `koanf:"api_key"`
		RootFolder       string `koanf:"root_folder"`
		QualityProfileID int    `koanf:"quality_profile_id"`
	} `koanf:"radarr"`

	TMDB struct {
		APIKey    string  `koanf:"api_key"`
		BaseURL   string  `koanf:"base_url"`
		RateLimit float64 `koanf:"rate_limit"`
	} `koanf:"tmdb"`

	Letterboxd struct {
		Users   []string `koanf:"users"`
		BaseURL string   `koanf:"base_url"`
	} `koanf:"letterboxd"`

	Environment string `koanf:"environment"`
	CI          string `koanf:"ci"`
	SyncLog     string `koanf:"sync_log"`
	Schedule    string `koanf:"schedule"`
	DryRun      bool   `koanf:"dry_run"`

	Log struct {
		Level string `koanf:"level"`
		File  string `koanf:"file"`
	} `koanf:"log"`

	Proxy struct {
		URL string `koanf:"url"`
	} `koanf:"proxy"`

	HTTP struct {
		Retries int `koanf:"retries"`
	} `koanf:"http"`

	Pushover struct {
		Token string `koanf:"token"`
		User  string `koanf:"user"`
	} `koanf:"pushover"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（各组件直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ConfigFile string `toml:"config_file"`

	RadarrURL        string `toml:"radarr_url"`
	RadarrAPIKey     string `toml:"radarr_api_key"`
	RootFolder       string `toml:"root_folder"`
	QualityProfileID int    `toml:"quality_profile_id"`

	TMDBAPIKey    string  `toml:"tmdb_api_key"`
	TMDBBaseURL   string  `toml:"tmdb_base_url"`
	TMDBRateLimit float64 `toml:"tmdb_rate_limit"`

	LetterboxdBaseURL string   `toml:"letterboxd_base_url"`
	Users             []string `toml:"users"`

	Environment string `toml:"environment"`

	// SuppressSyncLog 为 true 时（CI/自动化环境）不向 sync log 追加任何条目。
	SuppressSyncLog bool   `toml:"suppress_sync_log"`
	SyncLogPath     string `toml:"sync_log"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	ProxyURL    string `toml:"proxy_url"`
	HTTPRetries int    `toml:"http_retries"`

	Schedule string `toml:"schedule"`
	DryRun   bool   `toml:"dry_run"`

	PushoverToken string `toml:"pushover_token"`
	PushoverUser  string `toml:"pushover_user"`
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeMissing:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path != "" && e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Load 按固定优先级合并配置：CLI > 环境变量 > 配置文件 > 默认值。
//
// 配置文件发现规则：
// 1) CLI 给了 --config：必须存在
// 2) 否则尝试 <cwd>/wlsync.toml（可选，不存在不报错）
//
// Load 不校验“运行所需字段是否齐全”，由 Validate 负责（watchlist/clean 等子命令不需要 API key）。
func Load(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
	}

	cfgPath, err := resolveConfigPath(cwd, cli.ConfigPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if cfgPath != "" {
		if err := k.Load(file.Provider(cfgPath), toml.Parser()); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
	}

	var fc FileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return merge(cfgPath, cli, fc)
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"radarr.root_folder":        DefaultRootFolder,
		"radarr.quality_profile_id": DefaultQualityProfileID,
		"tmdb.base_url":             DefaultTMDBURL,
		"tmdb.rate_limit":           DefaultTMDBRateLimit,
		"letterboxd.base_url":       DefaultLetterboxdURL,
		"sync_log":                  DefaultSyncLog,
		"log.level":                 "info",
	}
}

func envKey(name string) string {
	return envKeys[name]
}

func resolveConfigPath(cwd, explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		p := absCleanFrom(cwd, explicit)
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", &Error{Code: ErrCodeMissing, Path: p, Err: os.ErrNotExist}
			}
			return "", &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		return p, nil
	}

	p := absCleanFrom(cwd, DefaultFile)
	if _, err := os.Stat(p); err != nil {
		// 默认配置文件是可选的。
		return "", nil
	}
	return p, nil
}

func merge(cfgPath string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	users := normUsers(fc.Letterboxd.Users)
	if cli.UsersSet {
		users = normUsers(cli.Users)
	}

	dryRun := fc.DryRun
	if cli.DryRunSet {
		dryRun = cli.DryRun
	}

	schedule := strings.TrimSpace(fc.Schedule)
	if cli.ScheduleSet {
		schedule = strings.TrimSpace(cli.Schedule)
	}

	// 空环境变量会覆盖默认值：这里统一回填。
	root := strings.TrimSpace(fc.Radarr.RootFolder)
	if root == "" {
		root = DefaultRootFolder
	}
	qp := fc.Radarr.QualityProfileID
	if qp <= 0 {
		qp = DefaultQualityProfileID
	}
	syncLog := strings.TrimSpace(fc.SyncLog)
	if syncLog == "" {
		syncLog = DefaultSyncLog
	}
	lbURL := strings.TrimRight(strings.TrimSpace(fc.Letterboxd.BaseURL), "/")
	if lbURL == "" {
		lbURL = DefaultLetterboxdURL
	}
	tmdbURL := strings.TrimRight(strings.TrimSpace(fc.TMDB.BaseURL), "/")
	if tmdbURL == "" {
		tmdbURL = DefaultTMDBURL
	}
	rateLimit := fc.TMDB.RateLimit
	if rateLimit < 0 {
		rateLimit = 0
	}
	retries := fc.HTTP.Retries
	if retries < 0 {
		retries = 0
	}
	// 文档约定：范围 [0, 5]；超出截断。
	if retries > 5 {
		retries = 5
	}

	for name, raw := range map[string]string{
		"letterboxd.base_url": lbURL,
		"tmdb.base_url":       tmdbURL,
	} {
		if err := validateHTTPURL(name, raw); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	proxyURL := strings.TrimSpace(fc.Proxy.URL)
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("proxy.url 无效：%q", proxyURL)}
		}
	}

	environment := strings.TrimSpace(fc.Environment)

	return EffectiveConfig{
		ConfigFile:        cfgPath,
		RadarrURL:         strings.TrimRight(strings.TrimSpace(fc.Radarr.URL), "/"),
		RadarrAPIKey:      strings.TrimSpace(fc.Radarr.APIKey),
		RootFolder:        root,
		QualityProfileID:  qp,
		TMDBAPIKey:        strings.TrimSpace(fc.TMDB.APIKey),
		TMDBBaseURL:       tmdbURL,
		TMDBRateLimit:     rateLimit,
		LetterboxdBaseURL: lbURL,
		Users:             users,
		Environment:       environment,
		SuppressSyncLog:   IsCI(environment, fc.CI),
		SyncLogPath:       syncLog,
		LogLevel:          strings.TrimSpace(fc.Log.Level),
		LogFile:           strings.TrimSpace(fc.Log.File),
		ProxyURL:          proxyURL,
		HTTPRetries:       retries,
		Schedule:          schedule,
		DryRun:            dryRun,
		PushoverToken:     strings.TrimSpace(fc.Pushover.Token),
		PushoverUser:      strings.TrimSpace(fc.Pushover.User),
	}, nil
}

// Validate 检查 run 所需的字段是否齐全。
func (c EffectiveConfig) Validate() error {
	var missing []string
	if c.RadarrURL == "" {
		missing = append(missing, "radarr.url (RADARR_URL)")
	}
	if c.RadarrAPIKey == "" {
		missing = append(missing, "radarr.api_key (RADARR_API_KEY)")
	}
	if c.TMDBAPIKey == "" {
		missing = append(missing, "tmdb.api_key (TMDB_API_KEY)")
	}
	if len(c.Users) == 0 {
		missing = append(missing, "letterboxd.users (LETTERBOXD_USERS)")
	}
	if len(missing) > 0 {
		return &Error{Code: ErrCodeInvalid, Path: c.ConfigFile, Err: fmt.Errorf("缺少必填项：%s", strings.Join(missing, ", "))}
	}
	if err := validateHTTPURL("radarr.url", c.RadarrURL); err != nil {
		return &Error{Code: ErrCodeInvalid, Path: c.ConfigFile, Err: err}
	}
	return nil
}

// NotifyEnabled 表示是否配置了 Pushover 通知。
func (c EffectiveConfig) NotifyEnabled() bool {
	return c.PushoverToken != "" && c.PushoverUser != ""
}

// Redacted 返回隐藏了密钥的副本（用于打印）。
func (c EffectiveConfig) Redacted() EffectiveConfig {
	c.RadarrAPIKey = mask(c.RadarrAPIKey)
	c.TMDBAPIKey = mask(c.TMDBAPIKey)
	c.PushoverToken = mask(c.PushoverToken)
	c.PushoverUser = mask(c.PushoverUser)
	c.Users = append([]string(nil), c.Users...)
	return c
}

// IsCI 判断是否处于 CI/自动化环境：ENVIRONMENT=ci|test，或 CI 为真值。
func IsCI(environment, ci string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "ci", "test":
		return true
	}
	switch strings.ToLower(strings.TrimSpace(ci)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// normUsers 同时接受 ["a","b"] 与 ["a,b"] 两种形态（TOML 数组 / 逗号分隔的环境变量）。
func normUsers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, u := range strings.Split(s, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", name, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", name, raw)
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
