package config

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"babiload/pkg/registry"
	"babiload/plugins/archive/targz"
	"babiload/plugins/fetcher/local"
	"babiload/plugins/fetcher/s3get"
)

// UT-CFG-01: 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Challenge != "tasks_1-20_v1-2/en/qa2_two-supporting-facts_{}.txt" {
		t.Fatalf("challenge 映射错误: %s", cfg.Challenge)
	}
	if cfg.OnlySupporting == nil || !*cfg.OnlySupporting || cfg.MaxLength != 50 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.Components.Archive != "targz" || len(cfg.Components.Encoders) != 1 || !cfg.Cache.Disabled {
		t.Fatalf("组件映射错误: %+v", cfg.Components)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// UT-CFG-02: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"BABILOAD_CHALLENGE=en/qa3_{}.txt",
		"BABILOAD_ONLY_SUPPORTING=true",
		"BABILOAD_MAX_LENGTH=0",
		"BABILOAD_CACHE_DIR= /var/cache/babi ",
		"BABILOAD_COMPONENTS_ENCODERS=jsonl, npy",
		"BABILOAD_OPTIONS_ENCODER__NPY__JSON={\"normalize\":true}",
		"BABILOAD_OUTPUT_DIR=dist",
		"BABILOAD_UNKNOWN=1",
		"OTHER=1",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.Challenge != "en/qa3_{}.txt" || over.OnlySupporting == nil || !*over.OnlySupporting {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.MaxLength != 0 || over.Resource.CacheDir != "/var/cache/babi" || over.OutputDir != "dist" {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if len(over.Components.Encoders) != 2 || string(over.Options.Encoders["npy"]) != `{"normalize":true}` {
		t.Fatalf("组件覆盖不正确: %+v", over)
	}
}

func TestEnvOverlayUnsetAndInvalid(t *testing.T) {
	over, err := EnvOverlay(nil)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.MaxLength != -1 || over.OnlySupporting != nil {
		t.Fatalf("未设置应保持哨兵: %+v", over)
	}
	if _, err := EnvOverlay([]string{"BABILOAD_MAX_LENGTH=abc"}); err == nil {
		t.Fatal("非法 MAX_LENGTH 应失败")
	}
	if _, err := EnvOverlay([]string{"BABILOAD_ONLY_SUPPORTING=maybe"}); err == nil {
		t.Fatal("非法 ONLY_SUPPORTING 应失败")
	}
}

// UT-CFG-03: 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	if _, err := LoadJSON("", raw); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应当返回错误")
	}
}

func TestMergePrecedence(t *testing.T) {
	base := Defaults()
	f := false
	js := Config{Challenge: "a_{}.txt", OnlySupporting: &f, MaxLength: 30}
	tr := true
	env := Config{MaxLength: -1, OnlySupporting: &tr}
	cli := Config{MaxLength: 0, Components: Components{Encoders: []string{"npy"}}}

	out := Merge(Merge(Merge(base, js), env), cli)
	if out.Challenge != "a_{}.txt" || !*out.OnlySupporting {
		t.Fatalf("合并错误: %+v", out)
	}
	// CLI 显式 0 覆盖 JSON 的 30；ENV 的 -1 不覆盖
	if out.MaxLength != 0 {
		t.Fatalf("max_length 合并错误: %d", out.MaxLength)
	}
	if len(out.Components.Encoders) != 1 || out.Components.Fetcher != "auto" {
		t.Fatalf("组件合并错误: %+v", out.Components)
	}
	// 指针不共享
	tr = false
	if !*out.OnlySupporting {
		t.Fatalf("OnlySupporting 应为拷贝")
	}
}

func TestMergeEncoderOptions(t *testing.T) {
	base := Config{Options: Options{Encoders: map[string]json.RawMessage{"jsonl": json.RawMessage(`{"prefix":"a"}`)}}}
	over := Config{MaxLength: -1, Options: Options{Encoders: map[string]json.RawMessage{"npy": json.RawMessage(`{}`)}}}
	out := Merge(base, over)
	if len(out.Options.Encoders) != 2 || string(out.Options.Encoders["jsonl"]) != `{"prefix":"a"}` {
		t.Fatalf("encoder options 合并错误: %v", out.Options.Encoders)
	}
	if len(base.Options.Encoders) != 1 {
		t.Fatalf("base 不应被修改")
	}
}

// 补充覆盖: splitComma 与 cloneRaw
func TestSplitCommaClone(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.Resource.Name != DefaultName || d.Components.Fetcher != registry.Auto || len(d.Components.Encoders) != 2 {
		t.Fatalf("默认值错误: %+v", d)
	}
	if filepath.Base(d.Resource.CacheDir) != "babiload" {
		t.Fatalf("默认缓存目录错误: %s", d.Resource.CacheDir)
	}
	if err := Validate(d); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
}

func TestOutputDirHelpers(t *testing.T) {
	raw, err := WithOutputDir(json.RawMessage(`{"atomic":false}`), "x/y")
	if err != nil {
		t.Fatalf("WithOutputDir: %v", err)
	}
	if OutputDir(raw) != "x/y" || !strings.Contains(string(raw), `"atomic":false`) {
		t.Fatalf("结果错误: %s", raw)
	}
	if raw, err := WithOutputDir(nil, "o"); err != nil || OutputDir(raw) != "o" {
		t.Fatalf("空 options: %s %v", raw, err)
	}
	if _, err := WithOutputDir(json.RawMessage(`[1]`), "o"); err == nil {
		t.Fatal("非对象 options 应失败")
	}
	if OutputDir(nil) != "" {
		t.Fatal("空 options 应返回空")
	}
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); err == nil {
		t.Fatal("空配置应失败")
	}
	cases := map[string]func(c *Config){
		"challenge 缺少 {}": func(c *Config) { c.Challenge = "qa1_train.txt" },
		"name 含路径":        func(c *Config) { c.Resource.Name = "a/b.tgz" },
		"origin 为空":       func(c *Config) { c.Resource.Origin = " " },
		"cache_dir 为空":    func(c *Config) { c.Resource.CacheDir = "" },
		"max_length 为负":   func(c *Config) { c.MaxLength = -2 },
		"未知 fetcher":      func(c *Config) { c.Components.Fetcher = "ftp" },
		"未知 archive":      func(c *Config) { c.Components.Archive = "zip" },
		"未知 writer":       func(c *Config) { c.Components.Writer = "db" },
		"未知 encoder":      func(c *Config) { c.Components.Encoders = []string{"csv"} },
		"重复 encoder":      func(c *Config) { c.Components.Encoders = []string{"npy", "npy"} },
		"未知 encoder 选项":   func(c *Config) { c.Options.Encoders = map[string]json.RawMessage{"csv": nil} },
	}
	for name, mut := range cases {
		cfg := DefaultTemplateConfig()
		mut(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s 应失败", name)
		}
	}
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultTemplateConfig()
	cfg.Resource.CacheDir = filepath.Join(dir, "cache")
	cfg.OutputDir = filepath.Join(dir, "out")
	comp, set, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	defer comp.Close()
	if comp.Index == nil {
		t.Fatal("缓存索引应已打开")
	}
	if len(comp.Encoders) != 2 || comp.Writer == nil || comp.Fetcher == nil {
		t.Fatalf("组件缺失: %+v", comp)
	}
	if _, ok := comp.Archive.(registry.AutoArchive); !ok {
		t.Fatalf("archive 应为 auto: %T", comp.Archive)
	}
	if set.Name != DefaultName || set.Challenge != DefaultChallenge || set.OnlySupporting || set.MaxLength != 0 {
		t.Fatalf("settings 错误: %+v", set)
	}
	if IndexPath(cfg) != filepath.Join(dir, "cache", IndexFile) {
		t.Fatalf("索引路径错误: %s", IndexPath(cfg))
	}
}

func TestAssembleAutoFetcher(t *testing.T) {
	cases := []struct {
		origin string
		check  func(any) bool
	}{
		{"s3://text-datasets/babi.tar.gz", func(v any) bool { _, ok := v.(*s3get.Fetcher); return ok }},
		{"/data/babi.tar.gz", func(v any) bool { _, ok := v.(*local.Fetcher); return ok }},
	}
	for _, c := range cases {
		cfg := Defaults()
		cfg.Resource.Origin = c.origin
		cfg.Resource.CacheDir = t.TempDir()
		cfg.Cache.Disabled = true
		cfg.OutputDir = t.TempDir()
		comp, _, err := Assemble(cfg)
		if err != nil {
			t.Fatalf("%s: %v", c.origin, err)
		}
		if !c.check(comp.Fetcher) {
			t.Fatalf("%s: fetcher 类型错误 %T", c.origin, comp.Fetcher)
		}
		if comp.Index != nil {
			t.Fatalf("cache.disabled 时不应打开索引")
		}
	}
}

func TestAssembleExplicitArchiveAndBadOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Resource.CacheDir = t.TempDir()
	cfg.Cache.Disabled = true
	cfg.Components.Archive = "targz"
	cfg.Options.Archive = json.RawMessage(`{"buf_size":1024}`)
	comp, _, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	if _, ok := comp.Archive.(*targz.Opener); !ok {
		t.Fatalf("archive 类型错误: %T", comp.Archive)
	}

	cfg.Options.Archive = json.RawMessage(`{"nope":1}`)
	if _, _, err := Assemble(cfg); err == nil || !strings.Contains(err.Error(), "archive targz") {
		t.Fatalf("未知选项应失败: %v", err)
	}
	cfg.Options.Archive = nil
	cfg.Options.Encoders = map[string]json.RawMessage{"jsonl": json.RawMessage(`{"bad":true}`)}
	if _, _, err := Assemble(cfg); err == nil {
		t.Fatal("encoder 未知选项应失败")
	}
}

func TestWriterOptionsPrecedence(t *testing.T) {
	cfg := Config{Options: Options{Writer: json.RawMessage(`{"output_dir":"keep"}`)}}
	raw, err := writerOptions(cfg)
	if err != nil || OutputDir(raw) != "keep" {
		t.Fatalf("应保留 options.writer.output_dir: %s %v", raw, err)
	}
	cfg.OutputDir = "top"
	if raw, _ := writerOptions(cfg); OutputDir(raw) != "top" {
		t.Fatalf("顶层 output_dir 应优先: %s", raw)
	}
	if raw, _ := writerOptions(Config{}); OutputDir(raw) != DefaultOutputDir {
		t.Fatalf("默认 output_dir 错误: %s", raw)
	}
}

func TestDefaultTemplateConfigValid(t *testing.T) {
	cfg := DefaultTemplateConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("模板应通过校验: %v", err)
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	back, err := LoadJSON("", b)
	if err != nil {
		t.Fatalf("模板应可回读: %v", err)
	}
	if back.Challenge != cfg.Challenge || len(back.Options.Encoders) != 2 {
		t.Fatalf("回读不一致: %+v", back)
	}
}

func TestEffectiveOutputDir(t *testing.T) {
	if got := EffectiveOutputDir(Config{}); got != DefaultOutputDir {
		t.Fatalf("默认输出目录错误: %s", got)
	}
	if got := EffectiveOutputDir(Config{OutputDir: "x"}); got != "x" {
		t.Fatalf("顶层输出目录错误: %s", got)
	}
	bad := Config{OutputDir: "x", Options: Options{Writer: json.RawMessage(`[`)}}
	if got := EffectiveOutputDir(bad); got != "" {
		t.Fatalf("非法 options 应返回空: %s", got)
	}
}
