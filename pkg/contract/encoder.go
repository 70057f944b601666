package contract

import (
	"context"
	"io"
)

// Artifact: 待写出的单个工件。
type Artifact struct {
	ID   ArtifactID
	Body io.Reader
}

// Encoder: 将只读 Corpus 编码为若干工件。
// 约束：
//   - 纯计算，不做 I/O；
//   - 不修改 Corpus；
//   - 输出顺序稳定（同一输入得到字节一致的工件）。
type Encoder interface {
	Encode(ctx context.Context, c *Corpus) ([]Artifact, error)
}
