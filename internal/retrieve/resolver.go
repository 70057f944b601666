// Package retrieve 将资源名解析为本地归档路径：命中缓存直接返回，
// 否则经 Fetcher 拉取到缓存目录并登记到索引。
package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"babiload/internal/cache"
	"babiload/internal/diag"
	"babiload/pkg/contract"
)

// DefaultMirror: 手动下载提示中使用的镜像地址。
const DefaultMirror = "http://www.thespermwhale.com/jaseweston/babi/tasks_1-20_v1-2.tar.gz"

// Resolver 负责 name → 本地路径。
// Index 为 nil 时不登记也不校验（cache.disabled）。
type Resolver struct {
	Fetcher  contract.Fetcher
	Index    *cache.Index
	CacheDir string
	Mirror   string
	Logger   *diag.Logger
	// now 可在测试中替换
	now func() time.Time
}

// Get 返回 <CacheDir>/<name>（文件或已解压目录）。失败统一为 *contract.RetrievalError。
func (r *Resolver) Get(ctx context.Context, name, origin string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if strings.TrimSpace(r.CacheDir) == "" {
		return "", fmt.Errorf("%w: empty cache dir", contract.ErrInvalidInput)
	}
	dst := filepath.Join(r.CacheDir, name)

	st, err := os.Stat(dst)
	if err == nil && st.IsDir() {
		// 手动解压（tar xzf）的目录：直接使用，不登记也不校验大小
		r.Logger.DebugStart("retrieve", "cache hit (extracted dir)", map[string]string{"path": dst})
		return dst, nil
	}
	if err == nil && st.Mode().IsRegular() {
		fresh, err := r.checkCached(name, origin, dst, st.Size())
		if err != nil {
			return "", r.fail(name, origin, dst, err)
		}
		if fresh {
			r.Logger.DebugStart("retrieve", "cache hit", map[string]string{"path": dst})
			return dst, nil
		}
	}

	if r.Fetcher == nil {
		return "", r.fail(name, origin, dst, errors.New("archive not cached and no fetcher configured"))
	}
	t := r.Logger.Start("retrieve", "fetch "+origin)
	n, sum, err := r.fetchTo(ctx, origin, dst)
	if err != nil {
		since := time.Now().Add(-t.Since())
		r.Logger.ErrorWithKV("retrieve", string(diag.Classify(err)), err.Error(), &since, "", "", map[string]string{"origin": origin})
		return "", r.fail(name, origin, dst, err)
	}
	t.Finish("fetched "+name, n)
	if r.Index != nil {
		e := cache.Entry{Name: name, Origin: origin, Path: dst, Size: n, SHA256: sum, FetchedAt: r.clock()}
		if err := r.Index.Record(e); err != nil {
			// 归档已就位，索引失败只影响后续校验
			r.Logger.Warn("retrieve", "index record failed: "+err.Error(), nil)
		}
	}
	return dst, nil
}

// checkCached 判断已存在的缓存文件是否可用。
// 未登记的文件（手动下载）被采纳并登记；大小与索引不符则需重新拉取。
func (r *Resolver) checkCached(name, origin, dst string, size int64) (bool, error) {
	if r.Index == nil {
		return true, nil
	}
	e, ok, err := r.Index.Lookup(name)
	if err != nil {
		return false, err
	}
	if ok {
		if e.Size == size {
			return true, nil
		}
		r.Logger.Warn("retrieve", "cached size mismatch, refetching", map[string]string{
			"path": dst, "indexed": strconv.FormatInt(e.Size, 10), "actual": strconv.FormatInt(size, 10),
		})
		return false, nil
	}
	sum, err := fileSHA256(dst)
	if err != nil {
		return false, err
	}
	adopted := cache.Entry{Name: name, Origin: origin, Path: dst, Size: size, SHA256: sum, FetchedAt: r.clock()}
	if err := r.Index.Record(adopted); err != nil {
		return false, err
	}
	r.Logger.DebugStart("retrieve", "adopted manual download", map[string]string{"path": dst})
	return true, nil
}

// fetchTo 写入同目录临时文件后原子改名，避免留下半截归档。
func (r *Resolver) fetchTo(ctx context.Context, origin, dst string) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, "", err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	h := sha256.New()
	n, err := r.Fetcher.Fetch(ctx, origin, io.MultiWriter(tmp, h))
	if err != nil {
		cleanup()
		return 0, "", err
	}
	if n == 0 {
		cleanup()
		return 0, "", errors.New("empty archive")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func (r *Resolver) fail(name, origin, dst string, cause error) error {
	return &contract.RetrievalError{Name: name, Origin: origin, Path: dst, Hint: r.hint(dst), Err: cause}
}

// hint 生成手动下载的恢复命令。
func (r *Resolver) hint(dst string) string {
	mirror := r.Mirror
	if mirror == "" {
		mirror = DefaultMirror
	}
	base := path.Base(mirror)
	return fmt.Sprintf("$ wget %s\n$ mv %s %s", mirror, base, dst)
}

func (r *Resolver) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty resource name", contract.ErrInvalidInput)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: resource name %q", contract.ErrPathInvalid, name)
	}
	return nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
