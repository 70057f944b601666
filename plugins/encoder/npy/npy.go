// Package npy 将长度分布写为 NumPy .npy 向量（下标即 context 长度）。
package npy

import (
	"bytes"
	"context"

	"gorgonia.org/tensor"

	"babiload/pkg/contract"
)

// LenDist 为默认工件标识。
const LenDist contract.ArtifactID = "length_distribution.npy"

// Options: npy 编码选项。
type Options struct {
	// Normalize 为 true 时输出 float64 频率（和为 1），否则输出 int64 计数。
	Normalize bool `json:"normalize"`
	// Prefix 追加在工件 ID 前。
	Prefix string `json:"prefix"`
}

type Encoder struct {
	normalize bool
	prefix    string
}

func New(opts *Options) *Encoder {
	e := &Encoder{}
	if opts != nil {
		e.normalize = opts.Normalize
		e.prefix = opts.Prefix
	}
	return e
}

// Encode 输出稠密向量：长度 max(最大键+1, 1)。
// 分布中缺失的长度（>=100 区间的空洞）按 0 补齐。
func (e *Encoder) Encode(ctx context.Context, c *contract.Corpus) ([]contract.Artifact, error) {
	if c == nil {
		return nil, contract.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := Dense(c.Lengths)
	var t *tensor.Dense
	if e.normalize {
		total := float64(c.Lengths.Total())
		freq := make([]float64, len(counts))
		if total > 0 {
			for i, n := range counts {
				freq[i] = float64(n) / total
			}
		}
		t = tensor.New(tensor.WithShape(len(freq)), tensor.WithBacking(freq))
	} else {
		t = tensor.New(tensor.WithShape(len(counts)), tensor.WithBacking(counts))
	}
	var buf bytes.Buffer
	if err := t.WriteNpy(&buf); err != nil {
		return nil, err
	}
	id := contract.ArtifactID(e.prefix) + LenDist
	return []contract.Artifact{{ID: id, Body: bytes.NewReader(buf.Bytes())}}, nil
}

// Dense 将分布展开为 int64 切片，下标为长度。
func Dense(d contract.LengthDistribution) []int64 {
	n := 1
	for _, k := range d.Keys() {
		if k+1 > n {
			n = k + 1
		}
	}
	out := make([]int64, n)
	for k, c := range d {
		if k >= 0 {
			out[k] = int64(c)
		}
	}
	return out
}

var _ contract.Encoder = (*Encoder)(nil)
