package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// DefaultConfidence is assumed when the body carries no confidence tag.
const DefaultConfidence = 0.7

// opinionPatterns is the fixed, ordered stance vocabulary; the first match
// in the body wins. Order matters: "disagree" phrasings contain "agree", so
// negative stances are probed first. These are tuned constants, English and
// Chinese variants together.
//
// opinionPatterns 是固定且有序的立场词表，正文中最先命中的模式生效。
// 顺序很重要："disagree" 包含 "agree"，因此否定立场先行匹配。
var opinionPatterns = []struct {
	re      *regexp.Regexp
	opinion discussion.Opinion
}{
	// An explicit tag beats any prose phrasing. Negative stances probe
	// first here too: "agree" is a substring of "disagree" and "同意" of
	// "不同意". Word boundaries guard only the ASCII alternatives; RE2's \b
	// never fires between CJK runes.
	{regexp.MustCompile(`(?im)^\s*(?:opinion|观点|立场)\s*[:：]\s*(?:disagree\b|反对|不同意)`), discussion.OpinionDisagree},
	{regexp.MustCompile(`(?im)^\s*(?:opinion|观点|立场)\s*[:：]\s*(?:alternative\b|替代|另选)`), discussion.OpinionAlternative},
	{regexp.MustCompile(`(?im)^\s*(?:opinion|观点|立场)\s*[:：]\s*(?:agree\b|同意|赞同)`), discussion.OpinionAgree},
	{regexp.MustCompile(`(?im)^\s*(?:opinion|观点|立场)\s*[:：]\s*(?:neutral\b|中立)`), discussion.OpinionNeutral},

	{regexp.MustCompile(`(?i)\b(?:disagree|do\s+not\s+agree|don't\s+agree|cannot\s+agree|object\s+to)\b`), discussion.OpinionDisagree},
	{regexp.MustCompile(`不同意|反对|不认同|无法同意`), discussion.OpinionDisagree},

	{regexp.MustCompile(`(?i)\b(?:alternative(?:ly)?|another\s+approach|different\s+approach|instead\s+of|propose\s+instead)\b`), discussion.OpinionAlternative},
	{regexp.MustCompile(`替代方案|另一种方案|另一个思路|换个思路|不如改用`), discussion.OpinionAlternative},

	{regexp.MustCompile(`(?i)\b(?:agree|concur|support\s+this|in\s+favor|sounds\s+good)\b`), discussion.OpinionAgree},
	{regexp.MustCompile(`同意|赞同|认同|支持这个`), discussion.OpinionAgree},

	{regexp.MustCompile(`(?i)\b(?:neutral|no\s+strong\s+opinion|undecided|on\s+the\s+fence)\b`), discussion.OpinionNeutral},
	{regexp.MustCompile(`中立|保留意见|不置可否`), discussion.OpinionNeutral},
}

// confidencePattern extracts "confidence: <number>" (or the Chinese tag),
// tolerating a trailing percent sign.
var confidencePattern = regexp.MustCompile(`(?i)(?:confidence|置信度)\s*[:：]\s*([0-9]+(?:\.[0-9]+)?)\s*%?`)

// ParseOpinion scans the body for a stance, defaulting to neutral.
// ParseOpinion 扫描正文判定立场，默认中立。
func ParseOpinion(body string) discussion.Opinion {
	for _, p := range opinionPatterns {
		if p.re.MatchString(body) {
			return p.opinion
		}
	}
	return discussion.OpinionNeutral
}

// ParseConfidence extracts the confidence tag. Values above 1 are read as
// percentages; the result is clamped to [0,1]; absent or unparseable tags
// yield DefaultConfidence.
func ParseConfidence(body string) float64 {
	m := confidencePattern.FindStringSubmatch(body)
	if m == nil {
		return DefaultConfidence
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultConfidence
	}
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

// Closure sentences appended to agreeing responses so the counterpart (and
// the user) can see the discussion is ready to conclude. The Chinese
// sentence is the canonical one; dedup checks both languages so a body
// that already closed in either is left alone.
const (
	closureMarkerCN = "已达成一致"
	closureMarkerEN = "can be concluded"
)

// EnsureClosure appends the consensus closing sentence to an agreeing body
// unless one is already present. Counterparts are every participant except
// self. This is a product decision that speeds termination, not part of the
// log contract.
//
// EnsureClosure 在同意立场的正文末尾补充共识结束语（若尚未出现）。
func EnsureClosure(body, self string, participants []string, opinion discussion.Opinion) string {
	if opinion != discussion.OpinionAgree {
		return body
	}
	if strings.Contains(body, closureMarkerCN) || strings.Contains(strings.ToLower(body), closureMarkerEN) {
		return body
	}
	others := make([]string, 0, len(participants))
	for _, p := range participants {
		if !strings.EqualFold(p, self) {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return body
	}
	counterpart := strings.Join(others, "、")
	return body + "\n\n" + fmt.Sprintf("我与%s已达成一致，讨论可以结束。", counterpart)
}
