package registry

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"babiload/pkg/contract"
	adir "babiload/plugins/archive/dir"
	atgz "babiload/plugins/archive/targz"
	ejsonl "babiload/plugins/encoder/jsonl"
	enpy "babiload/plugins/encoder/npy"
	fhttp "babiload/plugins/fetcher/httpget"
	flocal "babiload/plugins/fetcher/local"
	fs3 "babiload/plugins/fetcher/s3get"
	wfs "babiload/plugins/writer/filesystem"
)

// Auto: 组件名为 "auto" 时按来源/路径自动选择实现。
const Auto = "auto"

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewFetcher 工厂签名：接收原样 JSON Options。
type NewFetcher func(raw json.RawMessage) (contract.Fetcher, error)

// NewArchive 工厂签名：接收原样 JSON Options。
type NewArchive func(raw json.RawMessage) (contract.ArchiveOpener, error)

// NewEncoder 工厂签名：接收原样 JSON Options。
type NewEncoder func(raw json.RawMessage) (contract.Encoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Fetcher 工厂注册表（显式、零反射）。
var Fetcher = map[string]NewFetcher{
	// http: net/http GET
	"http": func(raw json.RawMessage) (contract.Fetcher, error) {
		var opts fhttp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fhttp.New(&opts), nil
	},
	// s3: aws-sdk-go GetObject（默认匿名）
	"s3": func(raw json.RawMessage) (contract.Fetcher, error) {
		var opts fs3.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fs3.New(&opts)
	},
	// file: 本地路径或 file:// URL
	"file": func(raw json.RawMessage) (contract.Fetcher, error) {
		var opts flocal.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flocal.New(&opts), nil
	},
}

// Archive 工厂注册表。
var Archive = map[string]NewArchive{
	// targz: 流式读取 .tar.gz 成员
	"targz": func(raw json.RawMessage) (contract.ArchiveOpener, error) {
		var opts atgz.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return atgz.New(&opts), nil
	},
	// dir: 已解压目录
	"dir": func(raw json.RawMessage) (contract.ArchiveOpener, error) {
		var opts adir.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return adir.New(&opts), nil
	},
}

// Encoder 工厂注册表。
var Encoder = map[string]NewEncoder{
	// jsonl: 记录 JSONL + 词表/字符集/长度分布/汇总
	"jsonl": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts ejsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ejsonl.New(&opts), nil
	},
	// npy: 长度分布 .npy 向量
	"npy": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts enpy.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return enpy.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（默认原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// FetcherFor 返回 origin 对应的默认 Fetcher 名称。
// 显式 s3:// 使用 s3；http(s) 使用 http（公开 S3 桶可直接 GET）；其余按本地文件处理。
func FetcherFor(origin string) string {
	o := strings.ToLower(strings.TrimSpace(origin))
	switch {
	case strings.HasPrefix(o, "s3://"):
		return "s3"
	case strings.HasPrefix(o, "http://"), strings.HasPrefix(o, "https://"):
		return "http"
	default:
		return "file"
	}
}

// AutoArchive 按路径类型分派：目录 → dir，其余 → targz。
type AutoArchive struct {
	Dir   contract.ArchiveOpener
	TarGz contract.ArchiveOpener
}

func (a AutoArchive) OpenArchive(path string) (contract.Archive, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return a.Dir.OpenArchive(path)
	}
	return a.TarGz.OpenArchive(path)
}

// NewAutoArchive 使用默认选项构造 dir 与 targz。
func NewAutoArchive() contract.ArchiveOpener {
	return AutoArchive{Dir: adir.New(nil), TarGz: atgz.New(nil)}
}
