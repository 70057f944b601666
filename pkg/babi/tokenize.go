// Package babi 实现 bAbI 任务语料的分词、故事解析、展平过滤与统计聚合。
// 所有函数均为纯函数：不持有跨调用状态，不做 I/O（ReadLines 除外，仅读取给定 io.Reader）。
package babi

import (
	"regexp"
	"strings"

	"babiload/pkg/contract"
)

// 非词字符串：字母、数字、下划线以外的连续字符。
var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Tokenize 按非词字符串切分文本，并将分隔串本身作为候选 Token。
// 每个片段去除首尾空白，空片段丢弃；因此 "." "?" 等标点保留为独立 Token。
//
//	Tokenize("Bob dropped the apple. Where is the apple?")
//	// [Bob dropped the apple . Where is the apple ?]
func Tokenize(text string) contract.Sentence {
	locs := nonWordRe.FindAllStringIndex(text, -1)
	out := make(contract.Sentence, 0, 2*len(locs)+1)
	prev := 0
	for _, loc := range locs {
		out = appendFragment(out, text[prev:loc[0]])
		out = appendFragment(out, text[loc[0]:loc[1]])
		prev = loc[1]
	}
	return appendFragment(out, text[prev:])
}

func appendFragment(out contract.Sentence, frag string) contract.Sentence {
	if s := strings.TrimSpace(frag); s != "" {
		return append(out, s)
	}
	return out
}
