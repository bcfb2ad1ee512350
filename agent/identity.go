package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identity validation failures. Each maps to the single in-place retry in
// the response path; a second failure becomes an error record.
var (
	ErrEmptyOutput       = errors.New("agent: empty output")
	ErrMissingHeader     = errors.New("agent: missing AGENT header")
	ErrAgentMismatch     = errors.New("agent: header names a different agent")
	ErrEmptyBody         = errors.New("agent: empty body after header")
	ErrIdentityConfusion = errors.New("agent: output confuses agent identity")
)

// headerPattern matches the mandatory first non-empty line of agent output.
// headerPattern 匹配代理输出中必须出现的第一行非空内容。
var headerPattern = regexp.MustCompile(`(?i)^AGENT\s*:\s*(.+)$`)

// ValidateIdentity checks that raw CLI output speaks as self and nobody
// else, returning the body with the header stripped.
//
// ValidateIdentity 校验 CLI 原始输出确实以本代理身份发言，返回去掉头部后的正文。
//
// Rules, in order:
//  1. output must be non-empty after trimming
//  2. the first non-empty line must be "AGENT: <name>"
//  3. <name> must equal self (case-insensitive)
//  4. the remaining body must be non-empty
//  5. the body must not contrast itself with self ("与<self>不同",
//     "different from <self>") nor claim to be another known agent
//     ("我是<other>", "i am <other>")
func ValidateIdentity(raw, self string, known []string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyOutput
	}

	lines := strings.Split(trimmed, "\n")
	headerIdx := -1
	var claimed string
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			return "", fmt.Errorf("%w: first line is %q", ErrMissingHeader, truncate(line, 80))
		}
		headerIdx = i
		claimed = strings.TrimSpace(m[1])
		break
	}
	if headerIdx < 0 {
		return "", ErrMissingHeader
	}
	if !strings.EqualFold(claimed, self) {
		return "", fmt.Errorf("%w: claimed %q, expected %q", ErrAgentMismatch, claimed, self)
	}

	body := strings.TrimSpace(strings.Join(lines[headerIdx+1:], "\n"))
	if body == "" {
		return "", ErrEmptyBody
	}

	if err := checkIdentityConfusion(body, self, known); err != nil {
		return "", err
	}
	return body, nil
}

// checkIdentityConfusion rejects self-contradiction and foreign identity
// claims. The phrasings are tuned constants ported from observed agent
// slip-ups, not a semantic contract.
//
// checkIdentityConfusion 拒绝自我矛盾与冒充他人身份的表述。这些正则是根据
// 实际观察到的口误调整的常量，并非语义契约。
func checkIdentityConfusion(body, self string, known []string) error {
	selfQuoted := regexp.QuoteMeta(self)
	contradiction := regexp.MustCompile(`(?i)(与\s*` + selfQuoted + `\s*不同|different\s+from\s+` + selfQuoted + `)`)
	if loc := contradiction.FindString(body); loc != "" {
		return fmt.Errorf("%w: contrasts itself with %q (%q)", ErrIdentityConfusion, self, truncate(loc, 60))
	}

	for _, other := range known {
		if strings.EqualFold(other, self) {
			continue
		}
		foreign := regexp.MustCompile(`(?i)(我是|i\s+am)\s*` + regexp.QuoteMeta(other) + `\b`)
		if loc := foreign.FindString(body); loc != "" {
			return fmt.Errorf("%w: claims to be %q (%q)", ErrIdentityConfusion, other, truncate(loc, 60))
		}
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
