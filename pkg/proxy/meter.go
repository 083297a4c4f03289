package proxy

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"

	"mercator-hq/relay/pkg/limits/quota"
)

const (
	// maxMeterBody caps how much of a JSON response is kept for parsing.
	maxMeterBody = 1 << 20

	// maxMeterLine caps a single SSE line.
	maxMeterLine = 64 << 10
)

// usageBlock covers Anthropic and OpenAI style usage objects.
type usageBlock struct {
	InputTokens              *int64 `json:"input_tokens"`
	OutputTokens             *int64 `json:"output_tokens"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens"`
	PromptTokens             *int64 `json:"prompt_tokens"`
	CompletionTokens         *int64 `json:"completion_tokens"`
}

// meterEvent is a JSON response body or one SSE data payload. Anthropic
// streams put usage under message on message_start and at the top level on
// message_delta.
type meterEvent struct {
	Type    string      `json:"type"`
	Model   string      `json:"model"`
	Usage   *usageBlock `json:"usage"`
	Message *struct {
		Model string      `json:"model"`
		Usage *usageBlock `json:"usage"`
	} `json:"message"`
}

// Meter extracts token usage from a response body as it streams past. It
// never fails and keeps a bounded amount of the body.
type Meter struct {
	sse      bool
	buf      []byte
	overflow bool

	usage quota.Usage
	model string
}

// NewMeter creates a meter for a response with the given content type.
func NewMeter(contentType string) *Meter {
	mt, _, _ := mime.ParseMediaType(contentType)
	return &Meter{sse: mt == "text/event-stream"}
}

// Write consumes response bytes.
func (m *Meter) Write(p []byte) (int, error) {
	if m.sse {
		m.writeSSE(p)
		return len(p), nil
	}
	if m.overflow {
		return len(p), nil
	}
	if len(m.buf)+len(p) > maxMeterBody {
		m.overflow = true
		m.buf = nil
		return len(p), nil
	}
	m.buf = append(m.buf, p...)
	return len(p), nil
}

func (m *Meter) writeSSE(p []byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if m.overflow {
				return
			}
			if len(m.buf)+len(p) > maxMeterLine {
				m.overflow = true
				m.buf = m.buf[:0]
				return
			}
			m.buf = append(m.buf, p...)
			return
		}

		line := p[:i]
		if len(m.buf) > 0 || m.overflow {
			if !m.overflow {
				m.buf = append(m.buf, line...)
				m.sseLine(m.buf)
			}
			m.buf = m.buf[:0]
			m.overflow = false
		} else {
			m.sseLine(line)
		}
		p = p[i+1:]
	}
}

func (m *Meter) sseLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return
	}
	m.apply(data)
}

func (m *Meter) apply(payload []byte) {
	var ev meterEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.Message != nil {
		if ev.Message.Model != "" {
			m.model = ev.Message.Model
		}
		m.merge(ev.Message.Usage)
	}
	if ev.Model != "" && m.model == "" {
		m.model = ev.Model
	}
	m.merge(ev.Usage)
}

// merge overwrites the counts present in u. Anthropic message_delta counts
// are cumulative, so the latest value wins.
func (m *Meter) merge(u *usageBlock) {
	if u == nil {
		return
	}
	set := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
			m.usage.Known = true
		}
	}
	set(&m.usage.InputTokens, u.InputTokens)
	set(&m.usage.InputTokens, u.PromptTokens)
	set(&m.usage.OutputTokens, u.OutputTokens)
	set(&m.usage.OutputTokens, u.CompletionTokens)
	set(&m.usage.CacheCreationTokens, u.CacheCreationInputTokens)
	set(&m.usage.CacheReadTokens, u.CacheReadInputTokens)
}

// Result returns the usage seen so far and the model reported by the
// upstream. Usage.Known is false when no usage block was found.
func (m *Meter) Result() (quota.Usage, string) {
	if m.sse {
		if len(m.buf) > 0 && !m.overflow {
			m.sseLine(m.buf)
			m.buf = m.buf[:0]
		}
	} else if len(m.buf) > 0 && !m.overflow {
		trimmed := bytes.TrimSpace(m.buf)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			m.apply(trimmed)
		}
		m.buf = nil
	}
	return m.usage, strings.TrimSpace(m.model)
}
