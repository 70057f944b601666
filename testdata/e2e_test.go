package testdata

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	cfgpkg "babiload/internal/config"
	"babiload/internal/cache"
	"babiload/internal/pipeline"
	"babiload/pkg/contract"
	"babiload/plugins/encoder/jsonl"
)

const (
	qa1Train = "1 Mary moved to the bathroom.\n2 John went to the hallway.\n3 Where is Mary? \tbathroom\t1\n"
	qa1Test  = "1 Sandra went to the garden.\n2 Where is Sandra? \tgarden\t1\n"
)

// buildArchive 生成与公开归档布局一致的 tar.gz。
func buildArchive(t *testing.T, path string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range map[string]string{
		"tasks_1-20_v1-2/en/qa1_single-supporting-fact_train.txt": qa1Train,
		"tasks_1-20_v1-2/en/qa1_single-supporting-fact_test.txt":  qa1Test,
	} {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if path != "" {
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write archive: %v", err)
		}
	}
	return buf.Bytes()
}

func baseConfig(origin, cacheDir, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Resource.Name = "babi.tar.gz"
	cfg.Resource.Origin = origin
	cfg.Resource.CacheDir = cacheDir
	cfg.Challenge = "tasks_1-20_v1-2/en/qa1_single-supporting-fact_{}.txt"
	cfg.OutputDir = outDir
	cfg.Logging.Level = "error"
	cfg.Options.Writer = json.RawMessage(`{"atomic":false,"keep_existing":false,"perm_file":0,"perm_dir":0,"buf_size":65536}`)
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (*contract.Corpus, error) {
	t.Helper()
	if err := cfgpkg.Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer comp.Close()
	return pipeline.Run(context.Background(), comp, set, nil)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestE2ELocalOrigin(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	buildArchive(t, src)
	cacheDir := filepath.Join(dir, "cache")
	outDir := filepath.Join(dir, "out")
	cfg := baseConfig(src, cacheDir, outDir)
	// 本地来源：auto 选择 file fetcher，其选项为空
	cfg.Options.Fetcher = nil

	corpus, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(corpus.Train) != 1 || len(corpus.Test) != 1 {
		t.Fatalf("records: train=%d test=%d", len(corpus.Train), len(corpus.Test))
	}

	train := readLines(t, filepath.Join(outDir, string(jsonl.Train)))
	if len(train) != 1 {
		t.Fatalf("train.jsonl lines = %d", len(train))
	}
	var rec contract.FlattenedRecord
	if err := json.Unmarshal([]byte(train[0]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Answer != "bathroom" || len(rec.Context) != 12 || strings.Join(rec.Question, " ") != "Where is Mary ?" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	vocab := readLines(t, filepath.Join(outDir, string(jsonl.Vocab)))
	want := []string{".", "?", "John", "Mary", "Sandra", "Where", "bathroom", "garden", "hallway", "is", "moved", "the", "to", "went"}
	if strings.Join(vocab, " ") != strings.Join(want, " ") {
		t.Fatalf("vocab = %v", vocab)
	}

	b, err := os.ReadFile(filepath.Join(outDir, string(jsonl.Summary)))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var sum jsonl.SummaryDoc
	if err := json.Unmarshal(b, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.TrainRecords != 1 || sum.TestRecords != 1 || sum.VocabSize != len(want) || sum.MaxContextLen != 12 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(outDir, "length_distribution.npy")); err != nil {
		t.Fatalf("npy artifact missing: %v", err)
	}

	// 来源删除后仍可命中缓存
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	if _, err := runPipeline(t, cfg); err != nil {
		t.Fatalf("cached rerun: %v", err)
	}

	idx, err := cache.Open(filepath.Join(cacheDir, cfgpkg.IndexFile))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	entries, err := idx.List()
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "babi.tar.gz" || entries[0].Origin != src || entries[0].SHA256 == "" {
		t.Fatalf("index entries = %+v", entries)
	}
}

func TestE2EHTTPOrigin(t *testing.T) {
	body := buildArchive(t, "")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	cfg := baseConfig(srv.URL+"/babi.tar.gz", filepath.Join(dir, "cache"), outDir)
	cfg.Components.Encoders = []string{"jsonl"}
	for i := 0; i < 2; i++ {
		if _, err := runPipeline(t, cfg); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected single download, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(outDir, "length_distribution.npy")); err == nil {
		t.Fatalf("npy encoder not configured but artifact exists")
	}
}

func TestE2EOnlySupportingAndMaxLength(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	buildArchive(t, src)
	cfg := baseConfig(src, filepath.Join(dir, "cache"), filepath.Join(dir, "out"))
	cfg.Options.Fetcher = nil
	only := true
	cfg.OnlySupporting = &only
	// only-supporting 下两条 context 均为 6 个 Token；上限 6 为严格小于
	cfg.MaxLength = 6
	corpus, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(corpus.Train) != 0 || len(corpus.Test) != 0 {
		t.Fatalf("records should be filtered: train=%d test=%d", len(corpus.Train), len(corpus.Test))
	}

	cfg.MaxLength = 7
	cfg.OutputDir = filepath.Join(dir, "out2")
	corpus, err = runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(corpus.Train) != 1 || strings.Join(corpus.Train[0].Context, " ") != "Mary moved to the bathroom ." {
		t.Fatalf("train = %+v", corpus.Train)
	}
}

func TestE2EMissingMember(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	buildArchive(t, src)
	cfg := baseConfig(src, filepath.Join(dir, "cache"), filepath.Join(dir, "out"))
	cfg.Options.Fetcher = nil
	cfg.Challenge = "tasks_1-20_v1-2/en/qa1_{}.txt"
	_, err := runPipeline(t, cfg)
	var me *contract.MemberError
	if !errors.As(err, &me) {
		t.Fatalf("expect member error, got %v", err)
	}
	if len(me.Candidates) == 0 {
		t.Fatalf("expected candidates for %s", me.Member)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", string(jsonl.Train))); err == nil {
		t.Fatalf("no artifacts should be written on failure")
	}
}

func TestE2ERetrievalFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(filepath.Join(dir, "missing.tar.gz"), filepath.Join(dir, "cache"), filepath.Join(dir, "out"))
	cfg.Options.Fetcher = nil
	cfg.Resource.Mirror = "http://mirror.example/tasks.tar.gz"
	_, err := runPipeline(t, cfg)
	var re *contract.RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expect retrieval error, got %v", err)
	}
	lines := re.HintLines()
	if len(lines) != 2 || !strings.Contains(lines[0], "http://mirror.example/tasks.tar.gz") ||
		!strings.HasSuffix(lines[1], filepath.Join(dir, "cache", "babi.tar.gz")) {
		t.Fatalf("hint = %q", lines)
	}
}
