package httpget

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"babiload/pkg/contract"
)

// Options: HTTP(S) 拉取的最小配置。
type Options struct {
	TimeoutSeconds int               `json:"timeout_seconds"` // 整体请求超时（秒），默认 300
	UserAgent      string            `json:"user_agent"`      // 为空使用默认 UA
	ExtraHeaders   map[string]string `json:"extra_headers"`   // 追加/覆盖请求头（例如私有镜像鉴权）
}

func (o *Options) defaults() {
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 300
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = "babiload/1"
	}
}

// Fetcher 通过 GET 拉取归档。
type Fetcher struct {
	ua     string
	extraH map[string]string
	do     func(*http.Request) (*http.Response, error)
}

// New 构造 HTTP Fetcher。
func New(opts *Options) *Fetcher {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.defaults()
	hc := &http.Client{Timeout: time.Duration(o.TimeoutSeconds) * time.Second}
	return &Fetcher{ua: o.UserAgent, extraH: o.ExtraHeaders, do: hc.Do}
}

// upstreamError 实现 net.Error，便于将 5xx/408 归入网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string   { return fmt.Sprintf("http upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool   { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool { return e.status/100 == 5 }

// Fetch 将响应体完整写入 w，返回写入字节数。非 2xx 视为失败。
func (f *Fetcher) Fetch(ctx context.Context, origin string, w io.Writer) (int64, error) {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return 0, fmt.Errorf("http fetcher: %w: unsupported origin %q", contract.ErrInvalidInput, origin)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", f.ua)
	for k, v := range f.extraH {
		req.Header.Set(k, v)
	}
	resp, err := f.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		// 只保留少量正文用于诊断
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusRequestTimeout {
			return 0, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return 0, fmt.Errorf("http fetcher: GET %s: status %d: %s", origin, resp.StatusCode, msg)
	}
	return io.Copy(w, resp.Body)
}
