package contract

import "sort"

// Token: 单个词或标点串（不可变，无内部结构）。
type Token = string

// Sentence: 一行叙述或一个问题的有序 Token 序列。
// 空 Sentence 用作问题行之后的占位槽。
type Sentence []Token

// Record: 解析得到的 (context, question, answer) 三元组。
// 约束：
//   - Context 在全量模式下为故事中全部非空句子（按故事顺序）；
//     在 only-supporting 模式下为支撑事实句（按索引列表顺序）；
//   - Answer 原样保留，不做分词。
type Record struct {
	Context  []Sentence
	Question Sentence
	Answer   string
}

// FlattenedRecord: Context 已展平为单个 Sentence 的 Record。
type FlattenedRecord struct {
	Context  Sentence `json:"context"`
	Question Sentence `json:"question"`
	Answer   string   `json:"answer"`
}

// Split: 数据集切分名（train/test）。
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// CharacterSet: 词表中出现的全部字符（无序集合）。
type CharacterSet map[rune]struct{}

// Len 返回字符个数。
func (c CharacterSet) Len() int { return len(c) }

// Contains 判断字符是否在集合中。
func (c CharacterSet) Contains(r rune) bool {
	_, ok := c[r]
	return ok
}

// Runes 返回按码点升序的拷贝，用于稳定输出。
func (c CharacterSet) Runes() []rune {
	out := make([]rune, 0, len(c))
	for r := range c {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LengthDistribution: 展平后 context 长度 → 记录数。
// 稠密化后 [0,100) 内每个长度均有键；>=100 的长度仅在出现时存在。
type LengthDistribution map[int]int

// Keys 返回升序长度键。
func (d LengthDistribution) Keys() []int {
	keys := make([]int, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Total 返回全部计数之和（等于参与统计的记录数）。
func (d LengthDistribution) Total() int {
	n := 0
	for _, c := range d {
		n += c
	}
	return n
}

// MaxLength 返回计数非零的最大长度；无记录时为 -1。
func (d LengthDistribution) MaxLength() int {
	m := -1
	for k, c := range d {
		if c > 0 && k > m {
			m = k
		}
	}
	return m
}

// Corpus: 一次完整解析与聚合的只读结果（train+test 合并统计）。
type Corpus struct {
	Challenge  string
	Train      []FlattenedRecord
	Test       []FlattenedRecord
	Vocabulary []string
	Characters CharacterSet
	Lengths    LengthDistribution
}
