package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"babiload/internal/cache"
	"babiload/internal/diag"
	"babiload/internal/retrieve"
	"babiload/pkg/babi"
	"babiload/pkg/contract"
	"babiload/plugins/encoder/jsonl"
)

// - 单线程：流水线按 检索 → 打开归档 → train/test 解析 → 聚合 → 编码 → 写出 顺序执行。
// - 首错返回：任一阶段出错即记录日志并上抛，不做重试。
// - 聚合只在 train+test 全部解析成功后进行，编码器只读 Corpus。

// Components 聚合运行所需的原子组件。
type Components struct {
	Fetcher  contract.Fetcher
	Archive  contract.ArchiveOpener
	Encoders []contract.Encoder
	Writer   contract.Writer
	// Index 可为 nil（cache.disabled）
	Index *cache.Index
}

// Close 释放组件持有的资源（目前仅缓存索引）。
func (c Components) Close() error {
	return c.Index.Close()
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 资源名（缓存文件名）与来源地址
	Name     string
	Origin   string
	CacheDir string
	// Mirror: 手动下载提示使用的镜像；空则 retrieve.DefaultMirror
	Mirror string
	// Challenge: 含 "{}" 的成员模板，替换为 train/test
	Challenge      string
	OnlySupporting bool
	// MaxLength <= 0 表示不过滤
	MaxLength int
}

// LoadCorpus 获取归档并解析 train/test 两个切分，返回聚合后的 Corpus。
// 检索失败返回 *contract.RetrievalError（带手动下载提示），由调用方决定如何呈现。
func LoadCorpus(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*contract.Corpus, error) {
	if err := sanity(comp, set, false); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(set.Challenge, set.Origin)
	}

	arc, err := openArchive(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}
	defer arc.Close()

	splits := make(map[contract.Split][]contract.FlattenedRecord, 2)
	for _, split := range []contract.Split{contract.SplitTrain, contract.SplitTest} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := loadSplit(ctx, arc, split, set, logger)
		if err != nil {
			return nil, err
		}
		splits[split] = recs
	}

	at := logger.Start("aggregate", "aggregate "+set.Challenge)
	corpus := babi.Aggregate(set.Challenge, splits[contract.SplitTrain], splits[contract.SplitTest])
	at.Finish("aggregated", int64(len(corpus.Vocabulary)))
	diag.IncOp("aggregate", "finish", "success")
	return corpus, nil
}

// ListMembers 获取归档并列出全部成员（正斜杠、字典序），用于挑选 challenge 模板。
func ListMembers(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]string, error) {
	if err := sanity(comp, set, false); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	arc, err := openArchive(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}
	defer arc.Close()
	members, err := arc.Members(ctx)
	if err != nil {
		fail(logger, "archive", "list members failed", err, "", "")
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// openArchive 解析缓存路径（必要时拉取）并打开归档。
func openArchive(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.Archive, error) {
	res := &retrieve.Resolver{
		Fetcher:  comp.Fetcher,
		Index:    comp.Index,
		CacheDir: set.CacheDir,
		Mirror:   set.Mirror,
		Logger:   logger,
	}
	rt := logger.Start("retrieve", "resolve "+set.Name)
	path, err := res.Get(ctx, set.Name, set.Origin)
	if err != nil {
		fail(logger, "retrieve", "resolve failed", err, "", "")
		return nil, err
	}
	rt.Finish("resolved "+path, 0)
	diag.IncOp("retrieve", "finish", "success")

	arc, err := comp.Archive.OpenArchive(path)
	if err != nil {
		fail(logger, "archive", "open failed", err, "", path)
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return arc, nil
}

// loadSplit 读取单个切分成员并解析为展平记录。
func loadSplit(ctx context.Context, arc contract.Archive, split contract.Split, set Settings, logger *diag.Logger) (recs []contract.FlattenedRecord, err error) {
	member := contract.MemberFor(set.Challenge, split)
	if t := diag.GetTerminal(); t != nil {
		t.SplitStart(string(split), member)
	}
	start := time.Now()
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.SplitFinish(string(split), len(recs), err == nil, time.Since(start))
		}
	}()

	timer := logger.StartWith("parser", "parse", string(split), member)
	rc, err := arc.Open(ctx, member)
	if err != nil {
		fail(logger, "archive", "open member failed", err, string(split), member)
		return nil, fmt.Errorf("open %s member: %w", split, err)
	}
	lines, err := babi.ReadLines(rc)
	_ = rc.Close()
	if err != nil {
		fail(logger, "archive", "read member failed", err, string(split), member)
		return nil, fmt.Errorf("read %s member: %w", split, err)
	}
	recs, err = babi.GetStories(lines, set.OnlySupporting, set.MaxLength)
	if err != nil {
		fail(logger, "parser", "parse failed", err, string(split), member)
		return nil, fmt.Errorf("parse %s (%s): %w", split, member, err)
	}
	timer.Finish("parsed", int64(len(recs)))
	diag.IncOp("parser", "finish", "success")
	diag.ObserveDuration("parser", string(split), time.Since(start).Milliseconds())
	return recs, nil
}

// Run 执行完整流水线：LoadCorpus → 各 Encoder → Writer。
// 返回 Corpus 供调用方展示统计；出错时 Corpus 可能为 nil。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*contract.Corpus, error) {
	if err := sanity(comp, set, true); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	start := time.Now()
	corpus, err := LoadCorpus(ctx, comp, set, logger)
	if err != nil {
		return nil, err
	}

	// 编码器按配置顺序执行；同一 ArtifactID 只允许出现一次（单写者）
	seen := make(map[contract.ArtifactID]bool)
	for i, enc := range comp.Encoders {
		et := logger.Start("encoder", "encode #"+strconv.Itoa(i))
		arts, err := enc.Encode(ctx, corpus)
		if err != nil {
			fail(logger, "encoder", "encode failed", err, "", "")
			return corpus, fmt.Errorf("encoder encode: %w", err)
		}
		et.Finish("encoded", int64(len(arts)))
		diag.IncOp("encoder", "finish", "success")

		for _, a := range arts {
			if seen[a.ID] {
				return corpus, fmt.Errorf("%w: duplicate artifact %q", contract.ErrInvalidInput, a.ID)
			}
			seen[a.ID] = true
			wt := logger.StartWith("writer", "write", "", string(a.ID))
			if err := comp.Writer.Write(ctx, a.ID, a.Body); err != nil {
				fail(logger, "writer", "write failed", err, "", string(a.ID))
				return corpus, fmt.Errorf("writer write %s: %w", a.ID, err)
			}
			wt.Finish("write", 0)
			diag.IncOp("writer", "finish", "success")
		}
	}

	sum := jsonl.Summarize(corpus)
	logger.InfoFinish("pipeline", "summary", start, int64(sum.TrainRecords+sum.TestRecords), map[string]string{
		"challenge":       sum.Challenge,
		"train":           strconv.Itoa(sum.TrainRecords),
		"test":            strconv.Itoa(sum.TestRecords),
		"vocab":           strconv.Itoa(sum.VocabSize),
		"chars":           strconv.Itoa(sum.CharCount),
		"max_context_len": strconv.Itoa(sum.MaxContextLen),
	})
	return corpus, nil
}

// fail 统一记录错误日志与计数。
func fail(logger *diag.Logger, comp, msg string, err error, split, member string) {
	code := diag.Classify(err)
	kv := map[string]string{"error": err.Error()}
	var fe *contract.FormatError
	if errors.As(err, &fe) {
		kv["line"] = strconv.Itoa(fe.Line)
	}
	logger.ErrorWithKV(comp, string(code), msg, nil, split, member, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(comp Components, set Settings, needOutput bool) error {
	if comp.Archive == nil {
		return errors.New("nil archive opener")
	}
	if set.Name == "" || set.CacheDir == "" {
		return fmt.Errorf("%w: resource name and cache dir required", contract.ErrInvalidInput)
	}
	if set.Challenge == "" {
		return fmt.Errorf("%w: empty challenge", contract.ErrInvalidInput)
	}
	if needOutput {
		if comp.Writer == nil {
			return errors.New("nil writer")
		}
		if len(comp.Encoders) == 0 {
			return errors.New("no encoders")
		}
	}
	return nil
}
