package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"babiload/internal/cache"
	"babiload/internal/pipeline"
	"babiload/pkg/contract"
	"babiload/pkg/registry"
)

// IndexFile: 缓存目录下的默认索引文件名。
const IndexFile = "index.db"

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Resource.Name) == "" {
		return errors.New("config: resource.name empty")
	}
	if strings.ContainsAny(cfg.Resource.Name, `/\`) {
		return fmt.Errorf("config: resource.name %q must be a bare file name", cfg.Resource.Name)
	}
	if strings.TrimSpace(cfg.Resource.Origin) == "" {
		return errors.New("config: resource.origin empty")
	}
	if strings.TrimSpace(cfg.Resource.CacheDir) == "" {
		return errors.New("config: resource.cache_dir empty")
	}
	if !strings.Contains(cfg.Challenge, "{}") {
		return fmt.Errorf("config: challenge %q must contain the {} split placeholder", cfg.Challenge)
	}
	if cfg.MaxLength < 0 {
		return errors.New("config: max_length must be >= 0")
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Fetcher, d.Components.Fetcher); name != registry.Auto && registry.Fetcher[name] == nil {
		return fmt.Errorf("config: fetcher %q not registered", name)
	}
	if name := effName(cfg.Components.Archive, d.Components.Archive); name != registry.Auto && registry.Archive[name] == nil {
		return fmt.Errorf("config: archive %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	encs := cfg.Components.Encoders
	if len(encs) == 0 {
		encs = d.Components.Encoders
	}
	seen := map[string]bool{}
	for _, name := range encs {
		if registry.Encoder[name] == nil {
			return fmt.Errorf("config: encoder %q not registered", name)
		}
		if seen[name] {
			return fmt.Errorf("config: encoder %q listed twice", name)
		}
		seen[name] = true
	}
	for name := range cfg.Options.Encoders {
		if registry.Encoder[name] == nil {
			return fmt.Errorf("config: options for unknown encoder %q", name)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
// 返回的 Components 可能持有已打开的缓存索引，调用方负责 Close。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 有效名称
	d := Defaults()
	fn := effName(cfg.Components.Fetcher, d.Components.Fetcher)
	if fn == registry.Auto {
		fn = registry.FetcherFor(cfg.Resource.Origin)
	}
	an := effName(cfg.Components.Archive, d.Components.Archive)
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	encNames := cfg.Components.Encoders
	if len(encNames) == 0 {
		encNames = d.Components.Encoders
	}

	// 构造实例
	f, err := registry.Fetcher[fn](cfg.Options.Fetcher)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("fetcher %s: %w", fn, err)
	}
	var arc contract.ArchiveOpener
	if an == registry.Auto {
		arc = registry.NewAutoArchive()
	} else if arc, err = registry.Archive[an](cfg.Options.Archive); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("archive %s: %w", an, err)
	}
	encs := make([]contract.Encoder, 0, len(encNames))
	for _, name := range encNames {
		e, err := registry.Encoder[name](cfg.Options.Encoders[name])
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("encoder %s: %w", name, err)
		}
		encs = append(encs, e)
	}
	wraw, err := writerOptions(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}

	comp := pipeline.Components{Fetcher: f, Archive: arc, Encoders: encs, Writer: w}
	if !cfg.Cache.Disabled {
		idx, err := openIndex(cfg)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		comp.Index = idx
	}

	onlySup := false
	if cfg.OnlySupporting != nil {
		onlySup = *cfg.OnlySupporting
	}
	set := pipeline.Settings{
		Name:           cfg.Resource.Name,
		Origin:         cfg.Resource.Origin,
		CacheDir:       cfg.Resource.CacheDir,
		Mirror:         cfg.Resource.Mirror,
		Challenge:      cfg.Challenge,
		OnlySupporting: onlySup,
		MaxLength:      cfg.MaxLength,
	}
	return comp, set, nil
}

// IndexPath 返回生效的缓存索引路径。
func IndexPath(cfg Config) string {
	if p := strings.TrimSpace(cfg.Cache.Index); p != "" {
		return p
	}
	return filepath.Join(cfg.Resource.CacheDir, IndexFile)
}

func openIndex(cfg Config) (*cache.Index, error) {
	p := IndexPath(cfg)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	return cache.Open(p)
}

// writerOptions: 顶层 output_dir 优先；两处都未给出时使用默认 out。
func writerOptions(cfg Config) (json.RawMessage, error) {
	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" && OutputDir(cfg.Options.Writer) == "" {
		dir = DefaultOutputDir
	}
	if dir == "" {
		return cfg.Options.Writer, nil
	}
	return WithOutputDir(cfg.Options.Writer, dir)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

// EffectiveOutputDir 返回 writer 实际使用的 output_dir（options 非法时为空）。
func EffectiveOutputDir(cfg Config) string {
	raw, err := writerOptions(cfg)
	if err != nil {
		return ""
	}
	return OutputDir(raw)
}
