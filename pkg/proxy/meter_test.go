package proxy

import (
	"strings"
	"testing"
)

// ============ Meter Tests ============

func TestMeter_JSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIn    int64
		wantOut   int64
		wantCR    int64
		wantModel string
		wantKnown bool
	}{
		{
			name:      "anthropic message",
			body:      `{"id":"msg_1","model":"claude-sonnet-4","usage":{"input_tokens":12,"output_tokens":34,"cache_read_input_tokens":5}}`,
			wantIn:    12,
			wantOut:   34,
			wantCR:    5,
			wantModel: "claude-sonnet-4",
			wantKnown: true,
		},
		{
			name:      "openai completion",
			body:      `{"model":"gpt-4o","usage":{"prompt_tokens":7,"completion_tokens":9,"total_tokens":16}}`,
			wantIn:    7,
			wantOut:   9,
			wantModel: "gpt-4o",
			wantKnown: true,
		},
		{
			name: "no usage",
			body: `{"type":"error","error":{"type":"overloaded_error"}}`,
		},
		{
			name: "not json",
			body: `upstream exploded`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMeter("application/json")
			// Split writes to exercise buffering.
			mid := len(tt.body) / 2
			m.Write([]byte(tt.body[:mid]))
			m.Write([]byte(tt.body[mid:]))

			u, model := m.Result()
			if u.Known != tt.wantKnown {
				t.Fatalf("Known = %v, want %v", u.Known, tt.wantKnown)
			}
			if u.InputTokens != tt.wantIn || u.OutputTokens != tt.wantOut || u.CacheReadTokens != tt.wantCR {
				t.Errorf("usage = %+v", u)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestMeter_SSE(t *testing.T) {
	stream := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":25,"output_tokens":1,"cache_creation_input_tokens":3}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","usage":{"output_tokens":15}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
		``,
	}, "\r\n")

	for _, chunk := range []int{1, 7, 64, len(stream)} {
		m := NewMeter("text/event-stream; charset=utf-8")
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			m.Write([]byte(stream[i:end]))
		}

		u, model := m.Result()
		if !u.Known {
			t.Fatalf("chunk %d: usage not found", chunk)
		}
		if u.InputTokens != 25 || u.OutputTokens != 15 || u.CacheCreationTokens != 3 {
			t.Errorf("chunk %d: usage = %+v", chunk, u)
		}
		if model != "claude-sonnet-4" {
			t.Errorf("chunk %d: model = %q", chunk, model)
		}
	}
}

func TestMeter_SSELongLine(t *testing.T) {
	m := NewMeter("text/event-stream")
	m.Write([]byte("data: {\"pad\":\"" + strings.Repeat("x", maxMeterLine+10) + "\"}\n"))
	m.Write([]byte(`data: {"type":"message_delta","usage":{"output_tokens":4}}` + "\n\n"))

	u, _ := m.Result()
	if !u.Known || u.OutputTokens != 4 {
		t.Errorf("usage = %+v, want output 4 after a long line", u)
	}
}

func TestMeter_JSONOverflow(t *testing.T) {
	m := NewMeter("application/json")
	m.Write([]byte(`{"usage":{"input_tokens":1},"pad":"`))
	m.Write([]byte(strings.Repeat("x", maxMeterBody)))
	m.Write([]byte(`"}`))

	if u, _ := m.Result(); u.Known {
		t.Errorf("oversized body should not be metered, got %+v", u)
	}
}
