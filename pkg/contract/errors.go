package contract

import (
	"errors"
	"fmt"
	"strings"
)

// 最小错误分类（供上层策略与日志分类使用）。
var (
	// ErrFormat: 行不符合编号行语法（缺空格、tab 字段数不对、非整数 id/索引）。
	ErrFormat = errors.New("format error")
	// ErrDecoding: 行不是合法 UTF-8。
	ErrDecoding = errors.New("decoding error")
	// ErrRetrieval: 源归档无法获取（网络失败、缓存缺失）。
	ErrRetrieval = errors.New("retrieval error")
	// ErrMemberNotFound: 归档内不存在指定成员。
	ErrMemberNotFound = errors.New("archive member not found")
	// ErrInvalidInput: 调用参数非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)

// FormatError 描述一行输入的格式/解码错误。
// Line 为 1 起始的行号；Err 为 ErrFormat 或 ErrDecoding。
type FormatError struct {
	Line   int
	Text   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	kind := ErrFormat
	if e.Err != nil {
		kind = e.Err
	}
	if e.Text == "" {
		return fmt.Sprintf("%v: line %d: %s", kind, e.Line, e.Reason)
	}
	return fmt.Sprintf("%v: line %d: %s: %q", kind, e.Line, e.Reason, e.Text)
}

func (e *FormatError) Unwrap() error {
	if e.Err == nil {
		return ErrFormat
	}
	return e.Err
}

// RetrievalError: 归档获取失败的类型化结果，携带人工恢复提示。
type RetrievalError struct {
	Name   string
	Origin string
	Path   string
	Hint   string
	Err    error
}

func (e *RetrievalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s from %s", ErrRetrieval, e.Name, e.Origin)
	}
	return fmt.Sprintf("%v: %s from %s: %v", ErrRetrieval, e.Name, e.Origin, e.Err)
}

// Is 使 errors.Is(err, ErrRetrieval) 成立，同时保留底层原因链。
func (e *RetrievalError) Is(target error) bool { return target == ErrRetrieval }

func (e *RetrievalError) Unwrap() error { return e.Err }

// HintLines 将提示拆为非空行，便于终端逐行打印。
func (e *RetrievalError) HintLines() []string {
	var out []string
	for _, l := range strings.Split(e.Hint, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// MemberError: 归档中找不到成员；Candidates 为同目录下的近似成员（可能为空）。
type MemberError struct {
	Member     string
	Candidates []string
}

func (e *MemberError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("%v: %s", ErrMemberNotFound, e.Member)
	}
	return fmt.Sprintf("%v: %s (candidates: %s)", ErrMemberNotFound, e.Member, strings.Join(e.Candidates, ", "))
}

func (e *MemberError) Unwrap() error { return ErrMemberNotFound }
