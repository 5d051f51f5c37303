package prompt

import (
	"fmt"
	"strings"
)

// CorrectionSchema is the JSON Schema of a correction reply. Cross-field
// rules (counts, scores) are checked after parsing.
const CorrectionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["total_questions", "unanswered_count", "error_count", "overall_score", "summary", "corrections"],
  "properties": {
    "total_questions":  {"type": "integer", "minimum": 0},
    "unanswered_count": {"type": "integer", "minimum": 0},
    "error_count":      {"type": "integer", "minimum": 0},
    "overall_score":    {"type": "number", "minimum": 0, "maximum": 100},
    "summary":          {"type": "string"},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
    "model_version":    {"type": "string"},
    "improvement_suggestions": {"type": "array", "items": {"type": "string"}},
    "corrections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question_number", "is_unanswered", "error_type", "score", "comment", "knowledge_points"],
        "properties": {
          "question_number": {"type": "integer", "minimum": 1},
          "question_type":   {"type": "string"},
          "student_answer":  {"type": ["string", "null"]},
          "correct_answer":  {"type": "string"},
          "is_unanswered":   {"type": "boolean"},
          "error_type": {
            "anyOf": [
              {"type": "null"},
              {"enum": ["calculation", "concept", "careless", "unit", "logic", "other"]}
            ]
          },
          "score":   {"type": "number", "minimum": 0, "maximum": 100},
          "comment": {"type": "string"},
          "knowledge_points": {
            "type": "array",
            "maxItems": 3,
            "items": {
              "anyOf": [
                {"type": "string", "minLength": 1},
                {
                  "type": "object",
                  "required": ["name"],
                  "properties": {
                    "name":      {"type": "string", "minLength": 1},
                    "relevance": {"type": "number", "minimum": 0, "maximum": 1}
                  }
                }
              ]
            }
          }
        }
      }
    }
  }
}`

const correctionSystem = `你是一名经验丰富的作业批改老师。学生会在消息中附上一张或多张作业图片。
请逐题阅读图片中所有可见的题目，并按以下标准批改：答案是否正确、解题过程是否完整、相关知识点是否掌握、是否存在常见错误。

只输出一个 JSON 对象，不要输出任何解释文字，也不要使用代码块。JSON 必须严格符合以下结构：
{
  "total_questions": 整数,
  "unanswered_count": 整数,
  "error_count": 整数,
  "overall_score": 0-100,
  "summary": "总体评价",
  "corrections": [
    {
      "question_number": 从 1 开始的题号,
      "question_type": "choice" | "fill" | "solve" | "short_answer" | "other",
      "student_answer": 学生答案字符串，未作答时为 null,
      "correct_answer": "正确答案",
      "is_unanswered": true | false,
      "error_type": null | "calculation" | "concept" | "careless" | "unit" | "logic" | "other",
      "score": 0-100,
      "comment": "针对该题的点评",
      "knowledge_points": ["知识点"]
    }
  ],
  "improvement_suggestions": ["改进建议"],
  "confidence_score": 0.0-1.0,
  "model_version": "模型版本"
}

必须满足的约束：
- corrections 的数量等于 total_questions，每道题都要给出结果；没有题目时 total_questions 为 0，corrections 为空数组；
- unanswered_count 等于 is_unanswered 为 true 的题目数；
- error_count 等于 error_type 不为 null 的题目数；
- 未作答的题目 score 为 0，student_answer 为 null；
- error_type 为 null（答对）的已作答题目 score 必须大于 0；
- 每题 knowledge_points 为 1 到 3 个。`

// CorrectionSystem returns the fixed correction system prompt.
func CorrectionSystem() string { return correctionSystem }

// CorrectionUser builds the user turn that accompanies the homework images.
// OCR text, when available, is appended as supplemental context.
func CorrectionUser(subject, note string, ocrTexts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "请批改这份%s作业。", SubjectName(subject))
	if n := strings.TrimSpace(note); n != "" {
		b.WriteString("学生留言：")
		b.WriteString(Truncate(n, MaxReferenceChars))
	}
	var pages []string
	for _, t := range ocrTexts {
		if t = strings.TrimSpace(t); t != "" {
			pages = append(pages, t)
		}
	}
	if len(pages) > 0 {
		b.WriteString("\n\n以下是图片的文字识别结果，仅供参考，请以图片为准：\n")
		budget := MaxOCRChars
		for i, p := range pages {
			fmt.Fprintf(&b, "【第 %d 页】\n%s\n", i+1, Truncate(p, budget/len(pages)))
		}
	}
	return b.String()
}

// Reformat is the follow-up turn asking the model to fix an invalid reply.
func Reformat(problem string) string {
	return "你上一次的回复不是符合要求的 JSON（" + Truncate(problem, 300) +
		"）。请只输出修正后的 JSON 对象，不要任何其他文字或代码块，并确保满足所有约束。"
}
