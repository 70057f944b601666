package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// 默认资源：bAbI tasks v1.2（英文 1k 版本，qa1）。
const (
	DefaultName      = "babi-tasks-v1-2.tar.gz"
	DefaultOrigin    = "https://s3.amazonaws.com/text-datasets/babi_tasks_1-20_v1-2.tar.gz"
	DefaultChallenge = "tasks_1-20_v1-2/en/qa1_single-supporting-fact_{}.txt"
	DefaultOutputDir = "out"
)

// envPrefix: 环境变量覆盖前缀。
const envPrefix = "BABILOAD_"

// DefaultCacheDir 返回 <UserCacheDir>/babiload；不可用时退回临时目录。
func DefaultCacheDir() string {
	if d, err := os.UserCacheDir(); err == nil && d != "" {
		return filepath.Join(d, "babiload")
	}
	return filepath.Join(os.TempDir(), "babiload")
}

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Resource: Resource{
			Name:     DefaultName,
			Origin:   DefaultOrigin,
			CacheDir: DefaultCacheDir(),
		},
		Challenge: DefaultChallenge,
		Components: Components{
			Fetcher:  "auto",
			Archive:  "auto",
			Writer:   "fs",
			Encoders: []string{"jsonl", "npy"},
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// 资源
	if s := strings.TrimSpace(over.Resource.Name); s != "" {
		out.Resource.Name = s
	}
	if s := strings.TrimSpace(over.Resource.Origin); s != "" {
		out.Resource.Origin = s
	}
	if s := strings.TrimSpace(over.Resource.CacheDir); s != "" {
		out.Resource.CacheDir = s
	}
	if s := strings.TrimSpace(over.Resource.Mirror); s != "" {
		out.Resource.Mirror = s
	}
	if s := strings.TrimSpace(over.Challenge); s != "" {
		out.Challenge = s
	}
	if s := strings.TrimSpace(over.OutputDir); s != "" {
		out.OutputDir = s
	}
	if over.OnlySupporting != nil {
		v := *over.OnlySupporting
		out.OnlySupporting = &v
	}
	// 特殊：MaxLength 的 0 具有语义（不过滤），需要显式可覆盖。
	// 约定：over.MaxLength >= 0 视为“存在”，-1 视为未覆盖。
	if over.MaxLength >= 0 {
		out.MaxLength = over.MaxLength
	}

	// 缓存索引
	if s := strings.TrimSpace(over.Cache.Index); s != "" {
		out.Cache.Index = s
	}
	if over.Cache.Disabled {
		out.Cache.Disabled = true
	}

	// Logging
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Fetcher != "" {
		out.Components.Fetcher = over.Components.Fetcher
	}
	if over.Components.Archive != "" {
		out.Components.Archive = over.Components.Archive
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if len(over.Components.Encoders) > 0 {
		out.Components.Encoders = cloneStrings(over.Components.Encoders)
	}

	// Options（完整替换对应键）
	if len(over.Options.Fetcher) > 0 {
		out.Options.Fetcher = cloneRaw(over.Options.Fetcher)
	}
	if len(over.Options.Archive) > 0 {
		out.Options.Archive = cloneRaw(over.Options.Archive)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Encoders) > 0 {
		m := make(map[string]json.RawMessage, len(out.Options.Encoders)+len(over.Options.Encoders))
		for k, v := range out.Options.Encoders {
			m[k] = v
		}
		for k, v := range over.Options.Encoders {
			m[k] = cloneRaw(v)
		}
		out.Options.Encoders = m
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 BABILOAD_；集合之外的键忽略。
// 支持：RESOURCE_NAME, RESOURCE_ORIGIN, CACHE_DIR, MIRROR, CHALLENGE, ONLY_SUPPORTING,
// MAX_LENGTH, CACHE_INDEX, CACHE_DISABLED, LOG_LEVEL, LOG_DIR, OUTPUT_DIR, COMPONENTS_*,
// 以及 OPTIONS_{FETCHER,ARCHIVE,WRITER}_JSON 与 OPTIONS_ENCODER__<name>__JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// 默认：-1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxLength = -1
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(envPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], envPrefix)
		val := kv[eq+1:]
		tv := strings.TrimSpace(val)
		switch nk {
		case "RESOURCE_NAME":
			over.Resource.Name = tv
		case "RESOURCE_ORIGIN":
			over.Resource.Origin = tv
		case "CACHE_DIR":
			over.Resource.CacheDir = tv
		case "MIRROR":
			over.Resource.Mirror = tv
		case "CHALLENGE":
			over.Challenge = tv
		case "ONLY_SUPPORTING":
			if tv == "" {
				continue
			}
			b, err := strconv.ParseBool(tv)
			if err != nil {
				return over, fmt.Errorf("env %sONLY_SUPPORTING: %w", envPrefix, err)
			}
			over.OnlySupporting = &b
		case "MAX_LENGTH":
			if tv == "" {
				continue
			}
			n, err := strconv.Atoi(tv)
			if err != nil {
				return over, fmt.Errorf("env %sMAX_LENGTH: %w", envPrefix, err)
			}
			over.MaxLength = n
		case "CACHE_INDEX":
			over.Cache.Index = tv
		case "CACHE_DISABLED":
			if b, err := strconv.ParseBool(tv); err == nil {
				over.Cache.Disabled = b
			}
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "LOG_DIR":
			over.Logging.Dir = tv
		case "OUTPUT_DIR":
			over.OutputDir = tv
		case "COMPONENTS_FETCHER":
			over.Components.Fetcher = tv
		case "COMPONENTS_ARCHIVE":
			over.Components.Archive = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "COMPONENTS_ENCODERS":
			over.Components.Encoders = splitComma(tv)
		case "OPTIONS_FETCHER_JSON":
			// 原样 JSON；空值视为未设置，避免清空现有配置
			if tv != "" {
				over.Options.Fetcher = json.RawMessage(tv)
			}
		case "OPTIONS_ARCHIVE_JSON":
			if tv != "" {
				over.Options.Archive = json.RawMessage(tv)
			}
		case "OPTIONS_WRITER_JSON":
			if tv != "" {
				over.Options.Writer = json.RawMessage(tv)
			}
		default:
			// OPTIONS_ENCODER__<name>__JSON
			if strings.HasPrefix(nk, "OPTIONS_ENCODER__") && strings.HasSuffix(nk, "__JSON") {
				name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(nk, "OPTIONS_ENCODER__"), "__JSON"))
				if name != "" && tv != "" {
					if over.Options.Encoders == nil {
						over.Options.Encoders = map[string]json.RawMessage{}
					}
					over.Options.Encoders[name] = json.RawMessage(tv)
				}
			}
		}
	}
	return over, nil
}

// WithOutputDir 在 writer 原样 Options 上设置 output_dir，保留其他键。
// raw 为空时视为 {}。
func WithOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("writer options: %w", err)
		}
	}
	v, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["output_dir"] = v
	return json.Marshal(m)
}

// OutputDir 读取 writer Options 中的 output_dir（不存在时为空）。
func OutputDir(raw json.RawMessage) string {
	var v struct {
		OutputDir string `json:"output_dir"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v.OutputDir
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
