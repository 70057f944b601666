// Package local 从本地文件系统“拉取”归档（file:// 或普通路径），用于离线与测试。
package local

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"babiload/pkg/contract"
)

// Options 预留；当前无可配置项。
type Options struct{}

// Fetcher 实现 contract.Fetcher。
type Fetcher struct{}

func New(_ *Options) *Fetcher { return &Fetcher{} }

// Fetch 复制 origin 指向的常规文件到 w。
func (f *Fetcher) Fetch(ctx context.Context, origin string, w io.Writer) (int64, error) {
	p, err := pathOf(origin)
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	st, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("local fetcher: %w: %s is not a regular file", contract.ErrInvalidInput, p)
	}
	src, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(w, ctxReader{ctx: ctx, r: src})
}

func pathOf(origin string) (string, error) {
	if strings.TrimSpace(origin) == "" {
		return "", fmt.Errorf("local fetcher: %w: empty origin", contract.ErrInvalidInput)
	}
	if !strings.Contains(origin, "://") {
		return origin, nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("local fetcher: %w: unsupported origin %q", contract.ErrInvalidInput, origin)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("local fetcher: %w: remote file host %q", contract.ErrInvalidInput, u.Host)
	}
	return u.Path, nil
}

// ctxReader 在每次 Read 前检查取消，使大文件复制可中断。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
