// Package s3get 通过 S3 GetObject 拉取归档（公开桶默认匿名访问）。
package s3get

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"babiload/pkg/contract"
)

// Options: S3 拉取配置。
type Options struct {
	Region   string `json:"region"`   // 默认 us-east-1
	Endpoint string `json:"endpoint"` // 兼容 S3 的自定义端点（可选）
	// UseSharedCredentials 为 true 时走 SDK 默认凭证链；否则匿名请求。
	UseSharedCredentials bool `json:"use_shared_credentials"`
}

// S3Client 是 Fetch 用到的最小 S3 接口，便于测试替换。
type S3Client interface {
	GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// Fetcher 实现 contract.Fetcher。
type Fetcher struct {
	svc S3Client
}

// New 创建 S3 会话。端点非空时仅 s3 服务使用该端点。
func New(opts *Options) (*Fetcher, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.Region) == "" {
		o.Region = "us-east-1"
	}
	cfg := aws.Config{Region: aws.String(o.Region)}
	if !o.UseSharedCredentials {
		cfg.Credentials = credentials.AnonymousCredentials
	}
	if ep := strings.TrimSpace(o.Endpoint); ep != "" {
		defaultResolver := endpoints.DefaultResolver()
		cfg.EndpointResolver = endpoints.ResolverFunc(func(service, region string, optFns ...func(*endpoints.Options)) (endpoints.ResolvedEndpoint, error) {
			if service == s3.EndpointsID {
				return endpoints.ResolvedEndpoint{URL: ep}, nil
			}
			return defaultResolver.EndpointFor(service, region, optFns...)
		})
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &Fetcher{svc: s3.New(sess)}, nil
}

// NewWithClient 使用给定客户端（测试或自定义会话）。
func NewWithClient(svc S3Client) *Fetcher { return &Fetcher{svc: svc} }

// Fetch 下载对象全部字节到 w。
func (f *Fetcher) Fetch(ctx context.Context, origin string, w io.Writer) (int64, error) {
	bucket, key, err := ParseOrigin(origin)
	if err != nil {
		return 0, err
	}
	resp, err := f.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 get s3://%s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// ParseOrigin 解析 bucket 与 key，支持：
//   - s3://bucket/key
//   - https://s3.amazonaws.com/bucket/key（路径风格）
//   - https://bucket.s3.amazonaws.com/key（虚拟主机风格）
func ParseOrigin(origin string) (bucket, key string, err error) {
	if rest, ok := strings.CutPrefix(origin, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
	} else {
		u, perr := url.Parse(origin)
		if perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", "", fmt.Errorf("s3 fetcher: %w: unsupported origin %q", contract.ErrInvalidInput, origin)
		}
		p := strings.TrimPrefix(u.Path, "/")
		switch {
		case u.Host == "s3.amazonaws.com" || (strings.HasPrefix(u.Host, "s3.") && strings.HasSuffix(u.Host, ".amazonaws.com")):
			bucket, key, _ = strings.Cut(p, "/")
		case strings.Contains(u.Host, ".s3.") && strings.HasSuffix(u.Host, ".amazonaws.com"):
			bucket = u.Host[:strings.Index(u.Host, ".s3.")]
			key = p
		default:
			return "", "", fmt.Errorf("s3 fetcher: %w: not an s3 host %q", contract.ErrInvalidInput, u.Host)
		}
	}
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 fetcher: %w: origin %q needs bucket and object key", contract.ErrInvalidInput, origin)
	}
	return bucket, key, nil
}
