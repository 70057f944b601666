package babi

import "babiload/pkg/contract"

// Flatten 将多句 context 依序拼接为一个 Sentence（返回新切片）。
func Flatten(context []contract.Sentence) contract.Sentence {
	n := 0
	for _, s := range context {
		n += len(s)
	}
	out := make(contract.Sentence, 0, n)
	for _, s := range context {
		out = append(out, s...)
	}
	return out
}

// GetStories 解析并展平记录；maxLength > 0 时仅保留展平长度严格小于 maxLength 的记录。
// maxLength <= 0 表示不过滤。输出顺序与解析顺序一致。
func GetStories(lines [][]byte, onlySupporting bool, maxLength int) ([]contract.FlattenedRecord, error) {
	data, err := ParseStories(lines, onlySupporting)
	if err != nil {
		return nil, err
	}
	return FlattenRecords(data, maxLength), nil
}

// FlattenRecords 展平并按 maxLength 稳定过滤。
func FlattenRecords(data []contract.Record, maxLength int) []contract.FlattenedRecord {
	out := make([]contract.FlattenedRecord, 0, len(data))
	for _, rec := range data {
		flat := Flatten(rec.Context)
		if maxLength > 0 && len(flat) >= maxLength {
			continue
		}
		out = append(out, contract.FlattenedRecord{Context: flat, Question: rec.Question, Answer: rec.Answer})
	}
	return out
}
