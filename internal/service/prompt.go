package service

import (
	"strings"
)

// PromptTemplate 把人设、约束、格式与长度要求参数化，聊天、总结、讲解共用同一套组装逻辑。
type PromptTemplate struct {
	Persona      string
	Task         string
	Rules        []string
	TargetLength string
	Closing      string
}

// PromptInput 是一次渲染需要的动态内容，空字段对应的段落会被省略。
type PromptInput struct {
	History  string
	Context  string
	Question string
	Text     string
}

// Render 生成单条 user 消息的内容。
func (t PromptTemplate) Render(in PromptInput) string {
	var b strings.Builder
	b.WriteString(t.Persona)
	b.WriteString("\n\n")
	if t.Task != "" {
		b.WriteString(t.Task)
		b.WriteString("\n\n")
	}
	if t.TargetLength != "" {
		b.WriteString(t.TargetLength)
		b.WriteString("\n\n")
	}
	if len(t.Rules) > 0 {
		b.WriteString("Follow these rules strictly:\n")
		for _, r := range t.Rules {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	section(&b, "Recent conversation context:", in.History)
	section(&b, "Document content to use as the ONLY source:", in.Context)
	section(&b, "Text:", in.Text)
	section(&b, "User question:", in.Question)
	if t.Closing != "" {
		b.WriteString(t.Closing)
	}
	return strings.TrimSpace(b.String())
}

func section(b *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}

var plainFormatting = []string{
	"Use clear section titles (no symbols, no markdown characters like *, #, or ---)",
	"Use simple language and direct explanations",
	"Keep the response well-organized and readable",
	"Do not repeat content unnecessarily",
}

// TutorPrompt 用于基于文档片段的问答。
func TutorPrompt() PromptTemplate {
	return PromptTemplate{
		Persona: "You are an expert technical tutor.",
		Task: "Your task is to explain the user's question using ONLY the information present in the provided document content.\n" +
			"Do NOT use any external knowledge.",
		TargetLength: "The response should be moderately detailed, not overly long, and not too brief.",
		Rules: append([]string{
			"Explain concepts from beginner level to slightly advanced level",
			"Include short and relevant code examples only where necessary",
			"End with a short summary and key takeaways",
			"Do not invent information outside the document",
		}, plainFormatting...),
		Closing: "Now write a clean, structured explanation that directly answers the user's question based only on the document.",
	}
}

// SummaryPrompt 用于总结一次会话中用户学到的内容。
func SummaryPrompt() PromptTemplate {
	return PromptTemplate{
		Persona:      "You are an expert technical tutor.",
		Task:         "Summarize what the user learned in the conversation below. Use ONLY the conversation; do not add new material.",
		TargetLength: "Keep it short: a few sections with the key points.",
		Rules:        plainFormatting,
		Closing:      "Now write the summary.",
	}
}

// ExplainPrompt 用于按指定风格讲解一段文本。
func ExplainPrompt(style string) PromptTemplate {
	if strings.TrimSpace(style) == "" {
		style = "simple"
	}
	return PromptTemplate{
		Persona:      "You are an expert technical tutor.",
		Task:         "Explain the following text. Style: " + style + ".\nInclude a simple Mermaid diagram if it helps.",
		TargetLength: "The response should be moderately detailed, not overly long, and not too brief.",
		Rules:        append([]string{"Stay within what the text says"}, plainFormatting...),
		Closing:      "Now write the explanation.",
	}
}
