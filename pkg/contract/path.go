package contract

import (
	"path"
	"sort"
	"strings"
)

// NormalizeMember 规范化归档成员名，统一为跨平台稳定的形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 去掉前导 "./" 与 "/"（tar 成员常见写法）
func NormalizeMember(p string) string {
	s := strings.ReplaceAll(p, "\\", "/")
	s = path.Clean(s)
	s = strings.TrimLeft(s, "/")
	if s == "" {
		return "."
	}
	return s
}

// MemberFor 将 challenge 模板中的 "{}" 替换为切分名。
func MemberFor(challenge string, split Split) string {
	return NormalizeMember(strings.ReplaceAll(challenge, "{}", string(split)))
}

// Candidates 从 members 中挑选与 member 同目录、且基名前缀（首个 '_' 之前，
// 例如 "qa1"）相同的成员；前缀无匹配时退回同目录成员。结果有序，最多 max 个。
func Candidates(member string, members []string, max int) []string {
	member = NormalizeMember(member)
	dir, base := path.Split(member)
	stem, _, _ := strings.Cut(base, "_")
	var sameDir, sameStem []string
	for _, m := range members {
		m = NormalizeMember(m)
		d, b := path.Split(m)
		if d != dir || m == member {
			continue
		}
		sameDir = append(sameDir, m)
		if s, _, _ := strings.Cut(b, "_"); s == stem {
			sameStem = append(sameStem, m)
		}
	}
	out := sameStem
	if len(out) == 0 {
		out = sameDir
	}
	sort.Strings(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
