package babi

import (
	"sort"

	"babiload/pkg/contract"
)

// DenseLengths: 长度分布中必定存在的键区间 [0, DenseLengths)。
const DenseLengths = 100

// Vocabulary 返回全部记录中 context/question token 与 answer 的去重并集，按字典序排序。
func Vocabulary(sets ...[]contract.FlattenedRecord) []string {
	seen := make(map[string]struct{})
	for _, recs := range sets {
		for _, r := range recs {
			for _, tok := range r.Context {
				seen[tok] = struct{}{}
			}
			for _, tok := range r.Question {
				seen[tok] = struct{}{}
			}
			seen[r.Answer] = struct{}{}
		}
	}
	vocab := make([]string, 0, len(seen))
	for w := range seen {
		vocab = append(vocab, w)
	}
	sort.Strings(vocab)
	return vocab
}

// Characters 返回词表中出现的全部字符。
func Characters(vocab []string) contract.CharacterSet {
	cs := make(contract.CharacterSet)
	for _, w := range vocab {
		for _, r := range w {
			cs[r] = struct{}{}
		}
	}
	return cs
}

// Lengths 统计展平 context 长度分布，并将 [0, DenseLengths) 内缺失的长度补 0。
func Lengths(sets ...[]contract.FlattenedRecord) contract.LengthDistribution {
	dist := make(contract.LengthDistribution)
	for _, recs := range sets {
		for _, r := range recs {
			dist[len(r.Context)]++
		}
	}
	for i := 0; i < DenseLengths; i++ {
		if _, ok := dist[i]; !ok {
			dist[i] = 0
		}
	}
	return dist
}

// Aggregate 基于 train+test 一次性计算词表、字符集与长度分布。
func Aggregate(challenge string, train, test []contract.FlattenedRecord) *contract.Corpus {
	vocab := Vocabulary(train, test)
	return &contract.Corpus{
		Challenge:  challenge,
		Train:      train,
		Test:       test,
		Vocabulary: vocab,
		Characters: Characters(vocab),
		Lengths:    Lengths(train, test),
	}
}
