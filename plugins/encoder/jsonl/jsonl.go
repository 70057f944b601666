// Package jsonl 将 Corpus 编码为文本类工件：
//
//	train.jsonl / test.jsonl     每行一条 {"context":[...],"question":[...],"answer":"..."}
//	vocab.txt                    词表，每行一个词（字典序）
//	chars.txt                    字符集，按码点升序拼为一行
//	length_distribution.json     [{"length":n,"count":c},...]（长度升序）
//	summary.json                 计数汇总
package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"babiload/pkg/contract"
)

// 工件标识。
const (
	Train   contract.ArtifactID = "train.jsonl"
	Test    contract.ArtifactID = "test.jsonl"
	Vocab   contract.ArtifactID = "vocab.txt"
	Chars   contract.ArtifactID = "chars.txt"
	LenDist contract.ArtifactID = "length_distribution.json"
	Summary contract.ArtifactID = "summary.json"
)

// Options: 编码选项。
type Options struct {
	// Prefix 追加在每个工件 ID 前（例如 "qa1/"），为空则直接写在输出根目录。
	Prefix string `json:"prefix"`
	// SkipRecords 为 true 时不输出 train/test.jsonl（只要统计工件）。
	SkipRecords bool `json:"skip_records"`
}

type Encoder struct {
	prefix      string
	skipRecords bool
}

func New(opts *Options) *Encoder {
	e := &Encoder{}
	if opts != nil {
		e.prefix = strings.TrimLeft(opts.Prefix, "/")
		e.skipRecords = opts.SkipRecords
	}
	return e
}

// SummaryDoc 为 summary.json 的结构。
type SummaryDoc struct {
	Challenge     string `json:"challenge"`
	TrainRecords  int    `json:"train_records"`
	TestRecords   int    `json:"test_records"`
	VocabSize     int    `json:"vocab_size"`
	CharCount     int    `json:"char_count"`
	MaxContextLen int    `json:"max_context_len"`
}

type lengthCount struct {
	Length int `json:"length"`
	Count  int `json:"count"`
}

// Encode 生成稳定顺序的工件列表。
func (e *Encoder) Encode(ctx context.Context, c *contract.Corpus) ([]contract.Artifact, error) {
	if c == nil {
		return nil, contract.ErrInvalidInput
	}
	var out []contract.Artifact
	if !e.skipRecords {
		for _, s := range []struct {
			id   contract.ArtifactID
			recs []contract.FlattenedRecord
		}{{Train, c.Train}, {Test, c.Test}} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			b, err := encodeRecords(s.recs)
			if err != nil {
				return nil, err
			}
			out = append(out, e.artifact(s.id, b))
		}
	}

	var vb bytes.Buffer
	for _, w := range c.Vocabulary {
		vb.WriteString(w)
		vb.WriteByte('\n')
	}
	out = append(out, e.artifact(Vocab, vb.Bytes()))

	chars := string(c.Characters.Runes()) + "\n"
	out = append(out, e.artifact(Chars, []byte(chars)))

	dist := make([]lengthCount, 0, len(c.Lengths))
	for _, k := range c.Lengths.Keys() {
		dist = append(dist, lengthCount{Length: k, Count: c.Lengths[k]})
	}
	db, err := json.MarshalIndent(dist, "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, e.artifact(LenDist, append(db, '\n')))

	sb, err := json.MarshalIndent(Summarize(c), "", "  ")
	if err != nil {
		return nil, err
	}
	out = append(out, e.artifact(Summary, append(sb, '\n')))
	return out, nil
}

// Summarize 汇总 Corpus 计数（同时供终端/日志使用）。
func Summarize(c *contract.Corpus) SummaryDoc {
	return SummaryDoc{
		Challenge:     c.Challenge,
		TrainRecords:  len(c.Train),
		TestRecords:   len(c.Test),
		VocabSize:     len(c.Vocabulary),
		CharCount:     c.Characters.Len(),
		MaxContextLen: c.Lengths.MaxLength(),
	}
}

func (e *Encoder) artifact(id contract.ArtifactID, b []byte) contract.Artifact {
	return contract.Artifact{ID: contract.ArtifactID(e.prefix) + id, Body: bytes.NewReader(b)}
}

func encodeRecords(recs []contract.FlattenedRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		// 空切片输出 []，而非 null
		if r.Context == nil {
			r.Context = contract.Sentence{}
		}
		if r.Question == nil {
			r.Question = contract.Sentence{}
		}
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ contract.Encoder = (*Encoder)(nil)
