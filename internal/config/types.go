package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Resource Resource `json:"resource"`
	// Challenge: 归档内成员模板，"{}" 替换为 train/test。
	Challenge string `json:"challenge"`
	// OnlySupporting: 仅保留支撑事实句；nil 表示未设置。
	OnlySupporting *bool `json:"only_supporting,omitempty"`
	// MaxLength: 展平 context 长度上限（严格小于）；0 表示不过滤。
	// 覆盖层中 -1 表示未设置。
	MaxLength int `json:"max_length"`
	// OutputDir: 输出根目录；非空时覆盖 options.writer.output_dir。
	OutputDir string  `json:"output_dir,omitempty"`
	Cache     Cache   `json:"cache"`
	Logging   Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Resource: 源归档（缓存文件名、来源地址、缓存目录）。
type Resource struct {
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	CacheDir string `json:"cache_dir"`
	// Mirror: 检索失败时手动下载提示所用的镜像地址。
	Mirror string `json:"mirror,omitempty"`
}

// Cache: 归档索引（bbolt）。Index 为空时使用 <cache_dir>/index.db。
type Cache struct {
	Index    string `json:"index"`
	Disabled bool   `json:"disabled"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
// fetcher/archive 可为 "auto"：按来源/缓存路径自动选择。
type Components struct {
	Fetcher  string   `json:"fetcher"`
	Archive  string   `json:"archive"`
	Writer   string   `json:"writer"`
	Encoders []string `json:"encoders"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Fetcher  json.RawMessage            `json:"fetcher"`
	Archive  json.RawMessage            `json:"archive"`
	Writer   json.RawMessage            `json:"writer"`
	Encoders map[string]json.RawMessage `json:"encoders"`
}
