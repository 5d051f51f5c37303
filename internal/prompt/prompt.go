// Package prompt composes the system prompts sent to the LLM: the tutoring
// prompt personalized from a learning context and the fixed correction
// prompt with its JSON contract.
package prompt

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/learning"
)

// MaxWeakPointsShown caps the weak points listed in the tutoring prompt.
const MaxWeakPointsShown = 3

// Limits applied to free text embedded in prompts.
const (
	MaxReferenceChars = 600
	MaxOCRChars       = 2000
)

var subjectNames = map[string]string{
	"math":      "数学",
	"physics":   "物理",
	"chemistry": "化学",
	"chinese":   "语文",
	"english":   "英语",
	"biology":   "生物",
	"history":   "历史",
	"geography": "地理",
	"politics":  "政治",
}

// SubjectName returns the display name of a subject key.
func SubjectName(subject string) string {
	if n, ok := subjectNames[strings.ToLower(strings.TrimSpace(subject))]; ok {
		return n
	}
	if subject == "" {
		return "综合"
	}
	return subject
}

// KnownSubject reports whether subject is a supported subject key.
func KnownSubject(subject string) bool {
	_, ok := subjectNames[subject]
	return ok
}

// GradeName returns the display name of a grade level.
func GradeName(g domain.GradeLevel) string {
	s := string(g)
	var stage string
	switch {
	case strings.HasPrefix(s, "primary_"):
		stage = "小学"
	case strings.HasPrefix(s, "junior_"):
		stage = "初中"
	case strings.HasPrefix(s, "senior_"):
		stage = "高中"
	default:
		return "未设置"
	}
	n := strings.TrimLeft(s[strings.Index(s, "_")+1:], "0")
	digits := map[string]string{"1": "一", "2": "二", "3": "三", "4": "四", "5": "五", "6": "六"}
	return stage + digits[n] + "年级"
}

// Truncate keeps at most n grapheme clusters of s and appends "..." when
// something was cut.
func Truncate(s string, n int) string {
	if n <= 0 || uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String() + "..."
}

// TutorInput feeds TutorSystem.
type TutorInput struct {
	Context    *learning.Context
	Subject    string
	Grade      domain.GradeLevel
	References []string
}

const tutorPreamble = `你是一名耐心、专业的 K12 学习辅导老师。你的任务是帮助学生真正理解知识，而不是直接给出答案。
回答要求：
1. 先判断学生卡在哪一步，再有针对性地讲解；
2. 解题时分步骤说明思路，关键公式使用 LaTeX（行内用 $...$，独立公式用 $$...$$）；
3. 讲解结束后给出一个相似的小练习，帮助学生巩固。`

// TutorSystem builds the tutoring system prompt.
func TutorSystem(in TutorInput) string {
	var b strings.Builder
	b.WriteString(tutorPreamble)
	b.WriteString("\n\n")

	level := learning.LevelBeginner
	c := in.Context
	if c != nil {
		level = c.ContextSummary.CurrentLevel
	}
	if c != nil && len(c.WeakKnowledgePoints) > 0 {
		b.WriteString("【学生画像】\n该学生近期的薄弱知识点：\n")
		for i, w := range c.WeakKnowledgePoints {
			if i == MaxWeakPointsShown {
				break
			}
			fmt.Fprintf(&b, "- %s（错误率 %.0f%%，严重程度 %.2f）", w.KnowledgeName, w.ErrorRate*100, w.SeverityScore)
			if len(w.PrerequisiteKnowledge) > 0 {
				fmt.Fprintf(&b, "，前置知识：%s", strings.Join(w.PrerequisiteKnowledge, "、"))
			}
			b.WriteString("\n")
		}
		p := c.LearningPreferences
		fmt.Fprintf(&b, "学习节奏：%s；建议单次专注时长：%d 分钟；当前水平：%s；累计提问：%d 次。\n",
			paceName(p.LearningPace), p.FocusDurationMin, levelName(level), c.ContextSummary.TotalQuestions)
		b.WriteString("讲解时请优先照顾这些薄弱点，必要时先复习前置知识。\n\n")
	} else {
		b.WriteString("【学生画像】\n这是一位刚开始使用的同学（初学者），请多给予鼓励，用循序渐进的方式建立信心。\n\n")
	}

	fmt.Fprintf(&b, "当前学科：%s\n年级：%s\n", SubjectName(in.Subject), GradeName(in.Grade))
	b.WriteString("讲解风格：")
	b.WriteString(styleFor(level))
	b.WriteString("\n")

	if len(in.References) > 0 {
		b.WriteString("\n【参考资料】以下是教材中的相关内容，可作为讲解依据：\n")
		for _, r := range in.References {
			b.WriteString("- ")
			b.WriteString(Truncate(strings.TrimSpace(r), MaxReferenceChars))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func styleFor(level string) string {
	switch level {
	case learning.LevelAdvanced:
		return "学生基础扎实，可以简洁地讲解核心思路，适当拓展解题技巧和变式。"
	case learning.LevelIntermediate:
		return "学生有一定基础，重点讲清关键步骤和易错点，语言清晰准确。"
	default:
		return "使用简单易懂的语言，多举生活中的例子，一步一步引导，避免跳步。"
	}
}

func paceName(p string) string {
	switch p {
	case learning.PaceFast:
		return "较快"
	case learning.PaceSlow:
		return "较慢"
	default:
		return "适中"
	}
}

func levelName(l string) string {
	switch l {
	case learning.LevelAdvanced:
		return "进阶"
	case learning.LevelIntermediate:
		return "中等"
	default:
		return "入门"
	}
}
