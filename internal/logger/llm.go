package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter routes oracle prompt/reply dumps to w; nil disables them.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

func writeLLM(tags []string, sections [][2]string) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			b.WriteString("[" + tag + "]")
		}
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec[0])
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- " + title + " ---\n")
		b.WriteString(sec[1])
		if !strings.HasSuffix(sec[1], "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

// LogLLMRequest dumps the prompt pair sent to the oracle model. The raw HTTP
// payload is only included when payload dumping is enabled.
func LogLLMRequest(model, symbol, systemPrompt, userPrompt, payload string) {
	sections := [][2]string{{"SYSTEM", systemPrompt}, {"USER", userPrompt}}
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, [2]string{"PAYLOAD", payload})
	}
	writeLLM([]string{"request", model, symbol}, sections)
}

func LogLLMResponse(model, symbol, raw string) {
	writeLLM([]string{"response", model, symbol}, [][2]string{{"RAW", raw}})
}
