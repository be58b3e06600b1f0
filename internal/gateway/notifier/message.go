package notifier

import (
	"fmt"
	"strings"
	"time"

	"agentrade/internal/pkg/text"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 统一的 Telegram 推送格式：标题 + 代码块段落 + 页脚。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// KV formats one "key: value" line.
func KV(key string, value any) string {
	return fmt.Sprintf("%s: %v", key, value)
}

func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxStructuredMessageLen)
}

func renderSections(secs []MessageSection) string {
	var body strings.Builder
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			body.WriteString(escapeFence(title))
			body.WriteString("\n")
		}
		for _, line := range lines {
			body.WriteString("- ")
			body.WriteString(escapeFence(line))
			body.WriteString("\n")
		}
	}
	if body.Len() == 0 {
		return ""
	}
	return "```\n" + body.String() + "```\n\n"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
