package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 资源指向公开的 bAbI v1.2 归档，缓存目录取用户缓存目录；
// - 组件采用 auto 选择，编码器 jsonl + npy，Writer 输出到 ./out；
// - 选项给出安全中性默认值，键齐全便于修改。
func DefaultTemplateConfig() Config {
	d := Defaults()
	only := false
	cfg := Config{
		Resource:       d.Resource,
		Challenge:      d.Challenge,
		OnlySupporting: &only,
		MaxLength:      0,
		OutputDir:      DefaultOutputDir,
		Cache:          Cache{Index: "", Disabled: false},
		Logging:        Logging{Level: "info", Dir: "logs"},
		Components:     d.Components,
	}
	cfg.Resource.Mirror = "http://www.thespermwhale.com/jaseweston/babi/tasks_1-20_v1-2.tar.gz"
	// auto 模式下 fetcher 选项须与所选实现匹配；http 为默认来源的实现。
	cfg.Options.Fetcher = json.RawMessage(`{
  "timeout_seconds": 300,
  "user_agent": "babiload/1",
  "extra_headers": {}
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "keep_existing": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Encoders = map[string]json.RawMessage{
		"jsonl": json.RawMessage(`{
  "prefix": "",
  "skip_records": false
}`),
		"npy": json.RawMessage(`{
  "normalize": false,
  "prefix": ""
}`),
	}
	return cfg
}
