package contract

import (
	"context"
	"io"
)

// Archive: 已打开的本地归档（tar.gz 或已解压目录）。
// 约束：
//  1. 成员名使用正斜杠分隔，经 NormalizeMember 规范化；
//  2. Open 找不到成员时返回包装 ErrMemberNotFound 的错误；
//  3. 不做解码/业务解析，仅提供字节流；
//  4. 不在内部起并发。
type Archive interface {
	Open(ctx context.Context, member string) (io.ReadCloser, error)
	Members(ctx context.Context) ([]string, error)
	Close() error
}

// ArchiveOpener: 由本地路径打开 Archive。
type ArchiveOpener interface {
	OpenArchive(path string) (Archive, error)
}
