package babi

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"babiload/pkg/contract"
)

// ReadLines 读取全部行（等价于 readlines），去除结尾的 "\n"。
// 末尾没有换行的最后一行同样返回；EOF 后的空余量不计为一行。
func ReadLines(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var lines [][]byte
	for {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			lines = append(lines, bytes.TrimSuffix(b, []byte("\n")))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return nil, err
		}
	}
}

// ParseStories 将 bAbI 编号行解析为 Record 序列。
//
// 每行形如 "<id> <text>"；id 为 1 时开始新故事。text 含 TAB 时为问题行
// "question\tanswer\tsupporting"，否则为叙述行。每个问题行之后向故事追加一个
// 空占位句，使后续支撑索引与原始行号保持一致。
//
// onlySupporting 为 true 时 context 仅包含支撑索引（1 起始，按给定顺序）指向的句子；
// 否则为当前故事中全部非空句子。任一行不合规即返回 *contract.FormatError，不产出部分结果。
func ParseStories(lines [][]byte, onlySupporting bool) ([]contract.Record, error) {
	var data []contract.Record
	var story []contract.Sentence
	for i, raw := range lines {
		lineNo := i + 1
		if !utf8.Valid(raw) {
			return nil, &contract.FormatError{Line: lineNo, Reason: "invalid UTF-8", Err: contract.ErrDecoding}
		}
		line := strings.TrimSpace(string(raw))
		idText, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, &contract.FormatError{Line: lineNo, Text: line, Reason: "missing space separator"}
		}
		nid, err := strconv.Atoi(idText)
		if err != nil || nid < 1 {
			return nil, &contract.FormatError{Line: lineNo, Text: line, Reason: "line id is not a positive integer"}
		}
		if nid == 1 {
			story = nil
		}
		if !strings.Contains(rest, "\t") {
			story = append(story, Tokenize(rest))
			continue
		}

		fields := strings.Split(rest, "\t")
		if len(fields) != 3 {
			return nil, &contract.FormatError{Line: lineNo, Text: line, Reason: "question line must have 3 tab-separated fields"}
		}
		q, a, supporting := fields[0], fields[1], fields[2]
		var substory []contract.Sentence
		if onlySupporting {
			substory, err = selectSupporting(story, supporting)
			if err != nil {
				return nil, &contract.FormatError{Line: lineNo, Text: line, Reason: err.Error()}
			}
		} else {
			substory = nonEmpty(story)
		}
		data = append(data, contract.Record{Context: substory, Question: Tokenize(q), Answer: a})
		// 占位：问题行也占用一个行号
		story = append(story, nil)
	}
	return data, nil
}

// selectSupporting 按支撑索引（1 起始）选取句子，保持索引列表顺序。
func selectSupporting(story []contract.Sentence, supporting string) ([]contract.Sentence, error) {
	ids := strings.Fields(supporting)
	out := make([]contract.Sentence, 0, len(ids))
	for _, s := range ids {
		idx, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.New("supporting index is not an integer: " + strconv.Quote(s))
		}
		if idx < 1 || idx > len(story) {
			return nil, errors.New("supporting index out of range: " + s)
		}
		out = append(out, story[idx-1])
	}
	return out, nil
}

func nonEmpty(story []contract.Sentence) []contract.Sentence {
	out := make([]contract.Sentence, 0, len(story))
	for _, s := range story {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}
