// Package dir 将已解压的归档目录当作 Archive 使用（例如手动 tar xzf 后）。
package dir

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"babiload/pkg/contract"
)

// Options 为目录归档的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Pattern 为 Members 使用的递归通配（相对根目录），默认 "**/*.txt"。
	Pattern string `json:"pattern"`
	// ExcludeDirNames: 列举成员时跳过这些目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// Opener 实现 contract.ArchiveOpener。
type Opener struct {
	bufSize    int
	pattern    string
	excludeDir map[string]struct{}
}

func New(opts *Options) *Opener {
	o := &Opener{bufSize: 64 * 1024, pattern: "**/*.txt", excludeDir: map[string]struct{}{}}
	if opts == nil {
		return o
	}
	if opts.BufSize > 0 {
		o.bufSize = opts.BufSize
	}
	if p := strings.TrimSpace(opts.Pattern); p != "" {
		o.pattern = strings.TrimLeft(filepath.ToSlash(p), "/")
	}
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		o.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	return o
}

// OpenArchive 要求 path 为目录（跟随符号链接）。
func (o *Opener) OpenArchive(path string) (contract.Archive, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("dir archive: %w: %s is not a directory", contract.ErrInvalidInput, path)
	}
	return &Archive{root: filepath.Clean(path), o: o}, nil
}

// Archive 为目录视图。
type Archive struct {
	root string
	o    *Opener
}

// Open 打开 root 下的成员；拒绝越界路径，仅允许常规文件（可经符号链接）。
func (a *Archive) Open(ctx context.Context, member string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := contract.NormalizeMember(member)
	if m == "." || m == ".." || strings.HasPrefix(m, "../") {
		return nil, fmt.Errorf("dir archive: %w: %q", contract.ErrPathInvalid, member)
	}
	p := filepath.Join(a.root, filepath.FromSlash(m))
	t, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, a.notFound(ctx, m)
		}
		return nil, err
	}
	if !t.Mode().IsRegular() {
		return nil, a.notFound(ctx, m)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, a.o.bufSize), nil
}

func (a *Archive) notFound(ctx context.Context, m string) error {
	all, _ := a.Members(ctx)
	return &contract.MemberError{Member: m, Candidates: contract.Candidates(m, all, 5)}
}

// Members 通过递归通配列举常规文件，返回相对 root 的正斜杠路径（字典序）。
func (a *Archive) Members(ctx context.Context) ([]string, error) {
	matches, err := filepathx.Glob(filepath.ToSlash(a.root) + "/" + a.o.pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, p := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := os.Stat(p)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if a.excluded(rel) {
			continue
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

func (a *Archive) excluded(rel string) bool {
	if len(a.o.excludeDir) == 0 {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, d := range parts[:len(parts)-1] {
		if _, skip := a.o.excludeDir[strings.ToLower(d)]; skip {
			return true
		}
	}
	return false
}

func (a *Archive) Close() error { return nil }

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
