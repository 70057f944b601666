package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"babiload/internal/cache"
	cfgpkg "babiload/internal/config"
	"babiload/internal/diag"
	"babiload/internal/pipeline"
	"babiload/pkg/contract"
)

var (
	pipelineRun  = pipeline.Run
	pipelineList = pipeline.ListMembers
)

// 简化的 CLI：默认执行 检索 → 解析 → 编码写出。
// 全局旗标（最小集）：--config, --challenge, --only-supporting, --max-length, --origin, --cache-dir, --out
// 缓存维护：--cache-list, --cache-forget <name>
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	logLevel := "info"
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level/dir
	logger := diag.NewLogger(corrID, logLevel, "")
	defer func() { _ = logger.Close() }()
	// flags
	var (
		flagConfig      string
		flagChallenge   string
		flagOnlySup     bool
		flagMaxLength   int
		flagName        string
		flagOrigin      string
		flagCacheDir    string
		flagOut         string
		flagLogLevel    string
		flagInitDir     string
		flagStatus      bool
		flagListMembers bool
		flagCacheList   bool
		flagCacheForget string
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagChallenge, "challenge", "", "归档内成员模板，{} 替换为 train/test（覆盖配置）")
	flag.BoolVar(&flagOnlySup, "only-supporting", false, "仅保留支撑事实句作为 context（覆盖配置）")
	// max-length 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.IntVar(&flagMaxLength, "max-length", -1, "展平 context 长度上限（严格小于；0 表示不过滤）")
	flag.StringVar(&flagName, "name", "", "缓存文件名（覆盖配置）")
	flag.StringVar(&flagOrigin, "origin", "", "归档来源：http(s) URL、s3://bucket/key 或本地路径（覆盖配置）")
	flag.StringVar(&flagCacheDir, "cache-dir", "", "归档缓存目录（覆盖配置）")
	flag.StringVar(&flagOut, "out", "", "输出目录（覆盖配置）")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	flag.BoolVar(&flagListMembers, "list-members", false, "列出归档内全部成员后退出")
	flag.BoolVar(&flagCacheList, "cache-list", false, "列出缓存索引中的归档记录后退出")
	flag.StringVar(&flagCacheForget, "cache-forget", "", "删除指定资源名的缓存索引记录及其缓存归档后退出（下次运行重新拉取）")
	normalizeInitArg()
	flag.Parse()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg := cfgpkg.DefaultTemplateConfig()
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfg); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		// 生成 .env 模板（不覆盖已存在文件）。
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	// JSON 配置（文件或 ENV: BABILOAD_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv("BABILOAD_CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		if s := os.Getenv("BABILOAD_CONFIG_FILE"); s != "" {
			flagConfig = s
		}
	}
	// 默认读取工作目录下 config.json（若存在）
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	// ENV 覆盖（最小集合）
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	// 标记 MaxLength 未设置（避免默认 0 被误判为要覆盖）
	overCLI.MaxLength = flagMaxLength
	overCLI.Challenge = flagChallenge
	overCLI.Resource = cfgpkg.Resource{Name: flagName, Origin: flagOrigin, CacheDir: flagCacheDir}
	overCLI.OutputDir = flagOut
	overCLI.Logging.Level = flagLogLevel
	// only-supporting 仅在显式给出时覆盖（允许 --only-supporting=false）
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "only-supporting" {
			v := flagOnlySup
			overCLI.OnlySupporting = &v
		}
	})
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 基本校验 & 装配
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置中的日志级别与目录重建 logger
	if s := strings.TrimSpace(cfg.Logging.Level); s != "" {
		logLevel = s
	}
	_ = logger.Close()
	logger = diag.NewLogger(corrID, logLevel, cfg.Logging.Dir)

	// 预检：若使用文件系统 Writer，检查输出目录的可写性（仅列举时不需要）
	if !flagListMembers && !flagCacheList && flagCacheForget == "" {
		if err := preflightCheckOutputDir(cfg); err != nil {
			fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	defer func() { _ = comp.Close() }()

	logger.DebugStart("config", "effective", map[string]string{
		"name":            cfg.Resource.Name,
		"origin":          cfg.Resource.Origin,
		"cache_dir":       cfg.Resource.CacheDir,
		"challenge":       cfg.Challenge,
		"only_supporting": strconv.FormatBool(set.OnlySupporting),
		"max_length":      strconv.Itoa(cfg.MaxLength),
		"fetcher":         cfg.Components.Fetcher,
		"archive":         cfg.Components.Archive,
		"writer":          cfg.Components.Writer,
		"encoders":        strings.Join(cfg.Components.Encoders, ","),
		"output_dir":      cfgpkg.EffectiveOutputDir(cfg),
		"cache_disabled":  strconv.FormatBool(cfg.Cache.Disabled),
	})

	if flagCacheList {
		return listCache(comp, os.Stdout)
	}
	if name := strings.TrimSpace(flagCacheForget); name != "" {
		return forgetCache(comp, name, logger)
	}

	// Ctrl-C 取消：拉取/解析尽快返回
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	if flagListMembers {
		members, err := pipelineList(ctx, comp, set, logger)
		if err != nil {
			reportFailure(term, flagStatus, logger, err, start)
			return 1
		}
		for _, m := range members {
			fmt.Fprintln(os.Stdout, m)
		}
		return 0
	}

	// 运行流水线
	t := logger.Start("pipeline", "run")
	corpus, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		reportFailure(term, flagStatus, logger, err, start)
		term.RunFinish(false, time.Since(start), 0, 0)
		return 1
	}
	t.Finish("run", 0)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	vocab, chars := 0, 0
	if corpus != nil {
		vocab, chars = len(corpus.Vocabulary), corpus.Characters.Len()
	}
	term.RunFinish(true, time.Since(start), vocab, chars)
	return 0
}

// reportFailure 记录首错；检索失败时额外输出手动下载提示。
func reportFailure(term *diag.Terminal, status bool, logger *diag.Logger, err error, start time.Time) {
	code := string(diag.Classify(err))
	logger.Error("pipeline", code, "first error", &start)
	diag.IncOp("pipeline", "error", "error")
	if code != string(diag.CodeUnknown) {
		diag.IncError("pipeline", code)
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	fprintf(os.Stderr, "运行失败: %v\n", err)
	var re *contract.RetrievalError
	if !errors.As(err, &re) {
		return
	}
	lines := re.HintLines()
	if len(lines) == 0 {
		return
	}
	fprintf(os.Stderr, "可手动下载归档后重试：\n")
	if status {
		term.Hint(lines)
		return
	}
	for _, l := range lines {
		fprintf(os.Stderr, "  %s\n", l)
	}
}

// listCache 打印缓存索引记录（每行一条 JSON）。
func listCache(comp pipeline.Components, w *os.File) int {
	if comp.Index == nil {
		fprintf(os.Stderr, "缓存索引已禁用（cache.disabled）\n")
		return 3
	}
	entries, err := comp.Index.List()
	if err != nil {
		fprintf(os.Stderr, "读取缓存索引失败: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 1
		}
	}
	return 0
}

// forgetCache 删除索引记录与对应的缓存归档文件。
// 已解压的目录不在索引中，也不会被删除。
func forgetCache(comp pipeline.Components, name string, logger *diag.Logger) int {
	if comp.Index == nil {
		fprintf(os.Stderr, "缓存索引已禁用（cache.disabled）\n")
		return 3
	}
	e, ok, err := comp.Index.Lookup(name)
	if err != nil {
		fprintf(os.Stderr, "读取缓存索引失败: %v\n", err)
		return 1
	}
	if !ok {
		fprintf(os.Stderr, "缓存索引中没有 %s: %v\n", name, cache.ErrNotFound)
		return 1
	}
	if st, err := os.Lstat(e.Path); err == nil && st.Mode().IsRegular() {
		if err := os.Remove(e.Path); err != nil {
			fprintf(os.Stderr, "删除缓存归档失败: %v\n", err)
			return 1
		}
	}
	if err := comp.Index.Forget(name); err != nil {
		fprintf(os.Stderr, "删除索引记录失败: %v\n", err)
		return 1
	}
	logger.InfoFinish("cache", "forget "+name, time.Now(), 1, map[string]string{"path": e.Path})
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 为左侧去空白；value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义 \n/\t/\\/\" 作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		// 去除成对引号
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					// 最小转义处理
					val = strings.ReplaceAll(val, "\\n", "\n")
					val = strings.ReplaceAll(val, "\\t", "\t")
					val = strings.ReplaceAll(val, "\\r", "\r")
					val = strings.ReplaceAll(val, "\\\"", "\"")
					val = strings.ReplaceAll(val, "\\\\", "\\")
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
//
// 仅在检测到“裸开关或后继为下一个开关”的情况下插入默认值。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
// 仅创建文件；不覆盖，不合并。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# babiload .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置；按需填写。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("BABILOAD_CONFIG_FILE=\n")
	b.WriteString("BABILOAD_CONFIG_JSON=\n\n")

	b.WriteString("# 资源与缓存\n")
	b.WriteString("BABILOAD_RESOURCE_NAME=\n")
	b.WriteString("BABILOAD_RESOURCE_ORIGIN=\n")
	b.WriteString("BABILOAD_CACHE_DIR=\n")
	b.WriteString("BABILOAD_MIRROR=\n")
	b.WriteString("BABILOAD_CACHE_INDEX=\n")
	b.WriteString("BABILOAD_CACHE_DISABLED=\n\n")

	b.WriteString("# 解析参数\n")
	b.WriteString("BABILOAD_CHALLENGE=\n")
	b.WriteString("BABILOAD_ONLY_SUPPORTING=\n")
	b.WriteString("BABILOAD_MAX_LENGTH=\n")
	b.WriteString("BABILOAD_OUTPUT_DIR=\n\n")

	b.WriteString("# 日志\n")
	b.WriteString("BABILOAD_LOG_LEVEL=\n")
	b.WriteString("BABILOAD_LOG_DIR=\n\n")

	b.WriteString("# 组件选择与选项\n")
	b.WriteString("BABILOAD_COMPONENTS_FETCHER=\n")
	b.WriteString("BABILOAD_COMPONENTS_ARCHIVE=\n")
	b.WriteString("BABILOAD_COMPONENTS_WRITER=\n")
	b.WriteString("BABILOAD_COMPONENTS_ENCODERS=\n")
	b.WriteString("BABILOAD_OPTIONS_FETCHER_JSON=\n")
	b.WriteString("BABILOAD_OPTIONS_ARCHIVE_JSON=\n")
	b.WriteString("BABILOAD_OPTIONS_WRITER_JSON=\n")
	b.WriteString("BABILOAD_OPTIONS_ENCODER__JSONL__JSON=\n")
	b.WriteString("BABILOAD_OPTIONS_ENCODER__NPY__JSON=\n\n")

	// s3 fetcher 使用共享凭证时由 SDK 读取（不经 BABILOAD_ 前缀）
	b.WriteString("# AWS 凭证（仅 s3 fetcher 且 use_shared_credentials=true 时使用）\n")
	b.WriteString("AWS_ACCESS_KEY_ID=\n")
	b.WriteString("AWS_SECRET_ACCESS_KEY=\n")
	b.WriteString("AWS_REGION=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// 规则：
// - 若目录已存在：尝试创建并删除临时文件；失败则判为不可写。
// - 若目录不存在：检查父目录是否可写（尝试在父目录创建并删除临时目录）。
// 仅针对 fs writer 生效；其他 writer 跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfgpkg.EffectiveOutputDir(cfg))
	if dir == "" {
		// 无法可靠检查，让装配阶段按实现自行报错
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
