package contract

import (
	"context"
	"io"
)

// Fetcher: 按来源标识（URL、s3://、本地路径）拉取归档字节流。
// 约束：
//  1. 仅负责把 origin 的全部字节写入 w，不做缓存/落盘决策；
//  2. 单次调用、同步返回；应尊重 ctx 取消；
//  3. 不做重试，错误直接上抛。
type Fetcher interface {
	Fetch(ctx context.Context, origin string, w io.Writer) (int64, error)
}
