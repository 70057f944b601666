// Package targz 以只读方式访问 .tar.gz 归档中的成员（不解压到磁盘）。
package targz

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"babiload/pkg/contract"
)

// Options: tar.gz 读取配置。
type Options struct {
	// BufSize 为压缩流读缓冲（字节），默认 64KiB。
	BufSize int `json:"buf_size"`
}

// Opener 实现 contract.ArchiveOpener。
type Opener struct {
	bufSize int
}

func New(opts *Options) *Opener {
	b := 64 * 1024
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &Opener{bufSize: b}
}

// OpenArchive 校验路径为常规文件且可被 gzip 识别。
func (o *Opener) OpenArchive(path string) (contract.Archive, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("targz: %w: %s is not a regular file", contract.ErrInvalidInput, path)
	}
	a := &Archive{path: path, bufSize: o.bufSize}
	// 提前探测 gzip 头，坏文件尽早失败
	s, err := a.open()
	if err != nil {
		return nil, err
	}
	_ = s.Close()
	return a, nil
}

// Archive 每次 Open/Members 都重新顺序扫描（tar 无索引）。
type Archive struct {
	path    string
	bufSize int
	members []string
}

// stream 组合 tar.Reader 与需要关闭的底层资源。
type stream struct {
	*tar.Reader
	gz *gzip.Reader
	f  *os.File
}

func (s *stream) Close() error {
	errGz := s.gz.Close()
	errF := s.f.Close()
	return errors.Join(errGz, errF)
}

func (a *Archive) open() (*stream, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bufio.NewReaderSize(f, a.bufSize))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("targz: %s: %w", a.path, err)
	}
	return &stream{Reader: tar.NewReader(gz), gz: gz, f: f}, nil
}

// Open 返回成员内容流；调用方负责 Close（同时关闭归档文件）。
func (a *Archive) Open(ctx context.Context, member string) (io.ReadCloser, error) {
	want := contract.NormalizeMember(member)
	s, err := a.open()
	if err != nil {
		return nil, err
	}
	var seen []string
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return nil, err
		}
		h, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("targz: %s: %w", a.path, err)
		}
		if !isFile(h) {
			continue
		}
		name := contract.NormalizeMember(h.Name)
		if name == want {
			return s, nil
		}
		seen = append(seen, name)
	}
	_ = s.Close()
	if a.members == nil {
		sort.Strings(seen)
		a.members = seen
	}
	return nil, &contract.MemberError{Member: want, Candidates: contract.Candidates(want, seen, 5)}
}

// Members 列出全部常规文件成员（规范化、字典序）。
func (a *Archive) Members(ctx context.Context) ([]string, error) {
	if a.members != nil {
		return append([]string(nil), a.members...), nil
	}
	s, err := a.open()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	var out []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("targz: %s: %w", a.path, err)
		}
		if isFile(h) {
			out = append(out, contract.NormalizeMember(h.Name))
		}
	}
	sort.Strings(out)
	a.members = out
	return append([]string(nil), out...), nil
}

// Close 无常驻句柄。
func (a *Archive) Close() error { return nil }

func isFile(h *tar.Header) bool { return h.Typeflag == tar.TypeReg }
