// Package parser decodes an interactive CLI's terminal output into typed
// events. Lines may carry JSON event frames or plain rendered text.
package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"antai/internal/domain"
)

// Parser is a stateful line decoder bound to one process. It is not safe for
// concurrent use; the process manager feeds it from a single reader goroutine.
type Parser struct {
	buf     string
	blocks  map[int]*block
	counter int
	idBase  string
}

type blockKind int

const (
	blockText blockKind = iota
	blockThinking
)

type block struct {
	kind blockKind
	text strings.Builder
	id   string
}

// New creates a parser. Streaming block ids are unique per parser instance so
// a resumed session never reuses the ids of an earlier run.
func New() *Parser {
	return &Parser{
		blocks: make(map[int]*block),
		idBase: domain.NewID("")[16:],
	}
}

// Parse appends chunk to the line buffer and decodes every complete line.
// The trailing fragment without a newline stays buffered for the next call.
func (p *Parser) Parse(chunk string) []domain.OutputEvent {
	p.buf += chunk
	lines := strings.Split(p.buf, "\n")
	p.buf = lines[len(lines)-1]

	var events []domain.OutputEvent
	for _, raw := range lines[:len(lines)-1] {
		line := strings.TrimSpace(StripANSI(raw))
		if line == "" {
			continue
		}
		decoded := p.parseJSON(line)
		if len(decoded) == 0 {
			if ev := parseHeuristic(line); ev != nil {
				decoded = append(decoded, ev)
			}
		}
		events = append(events, decoded...)
		events = append(events, domain.OutputLine{Line: raw})
	}
	return events
}

// Flush emits whatever remains in the line buffer as a final stripped line.
// Unterminated streaming blocks are dropped.
func (p *Parser) Flush() []domain.OutputEvent {
	rest := strings.TrimSpace(StripANSI(p.buf))
	p.buf = ""
	clear(p.blocks)
	if rest == "" {
		return nil
	}
	return []domain.OutputEvent{domain.OutputLine{Line: rest}}
}

// frame is the superset of fields used by the recognized JSON event types.
type frame struct {
	Type         string          `json:"type"`
	Index        *int            `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
	} `json:"content_block"`
	Delta *struct {
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Message      json.RawMessage `json:"message"`
	Content      json.RawMessage `json:"content"`
	Name         string          `json:"name"`
	Input        json.RawMessage `json:"input"`
	Error        json.RawMessage `json:"error"`
	SessionID    string          `json:"session_id"`
	TotalCostUSD *float64        `json:"total_cost_usd"`
	CostUSD      *float64        `json:"cost_usd"`
	NumTurns     int             `json:"num_turns"`
	IsError      bool            `json:"is_error"`
	Result       json.RawMessage `json:"result"`
	Status       string          `json:"status"`
	Event        json.RawMessage `json:"event"`
}

type contentSegment struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

func (p *Parser) parseJSON(line string) []domain.OutputEvent {
	if !strings.HasPrefix(line, "{") {
		return nil
	}
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return nil
	}
	return p.decodeFrame(&f, line)
}

func (p *Parser) decodeFrame(f *frame, line string) []domain.OutputEvent {
	switch f.Type {
	case "stream_event":
		var inner frame
		if len(f.Event) == 0 || json.Unmarshal(f.Event, &inner) != nil {
			return nil
		}
		return p.decodeFrame(&inner, line)

	case "content_block_start":
		if f.Index == nil {
			return nil
		}
		p.counter++
		b := &block{kind: blockText, id: p.idBase + "_" + strconv.Itoa(p.counter)}
		if f.ContentBlock != nil && f.ContentBlock.Type == "thinking" {
			b.kind = blockThinking
		}
		p.blocks[*f.Index] = b
		if b.kind == blockThinking {
			return []domain.OutputEvent{domain.ThinkingDelta{BlockID: b.id}}
		}
		return nil

	case "content_block_delta":
		if f.Index == nil || f.Delta == nil {
			return nil
		}
		b, ok := p.blocks[*f.Index]
		if !ok {
			return nil
		}
		piece := f.Delta.Text
		if piece == "" {
			piece = f.Delta.Thinking
		}
		b.text.WriteString(piece)
		return []domain.OutputEvent{b.event(false)}

	case "content_block_stop":
		if f.Index == nil {
			return nil
		}
		b, ok := p.blocks[*f.Index]
		if !ok {
			return nil
		}
		delete(p.blocks, *f.Index)
		if b.kind == blockText && b.text.Len() == 0 {
			return nil
		}
		return []domain.OutputEvent{b.event(true)}

	case "assistant":
		content := f.Content
		if msg := bytes.TrimSpace(f.Message); len(msg) > 0 && msg[0] == '{' {
			var m struct {
				Content json.RawMessage `json:"content"`
			}
			if json.Unmarshal(msg, &m) == nil && len(m.Content) > 0 {
				content = m.Content
			}
		}
		return decodeAssistantContent(content)

	case "tool_use":
		name := f.Name
		if name == "" {
			name = "unknown"
		}
		return []domain.OutputEvent{domain.ToolUse{Tool: name, Input: f.Input}}

	case "tool_result":
		return []domain.OutputEvent{domain.ToolResult{Result: rawToString(f.Content)}}

	case "error":
		msg := stringField(f.Message)
		if msg == "" {
			msg = errorText(f.Error)
		}
		if msg == "" {
			msg = line
		}
		return []domain.OutputEvent{domain.ErrorOutput{Message: msg}}

	case "result":
		res := domain.Result{
			SessionID:  f.SessionID,
			NumTurns:   f.NumTurns,
			IsError:    f.IsError,
			ResultText: stringField(f.Result),
		}
		switch {
		case f.TotalCostUSD != nil:
			res.CostUSD = *f.TotalCostUSD
		case f.CostUSD != nil:
			res.CostUSD = *f.CostUSD
		}
		return []domain.OutputEvent{res}

	case "system":
		if f.Status == "" {
			return nil
		}
		return []domain.OutputEvent{domain.StatusChange{Status: f.Status}}

	case "user", "rate_limit_event":
		return nil
	}
	return nil
}

func (b *block) event(final bool) domain.OutputEvent {
	if b.kind == blockThinking {
		return domain.ThinkingDelta{BlockID: b.id, Content: b.text.String(), IsFinal: final}
	}
	return domain.MessageDelta{BlockID: b.id, Content: b.text.String(), IsFinal: final}
}

// decodeAssistantContent handles both the plain-string and segmented forms.
// Thinking segments come first, then one message holding all text segments.
func decodeAssistantContent(raw json.RawMessage) []domain.OutputEvent {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil
		}
		return []domain.OutputEvent{domain.AssistantMessage{Content: s}}
	}
	var segs []contentSegment
	if json.Unmarshal(raw, &segs) != nil {
		return nil
	}
	var (
		events []domain.OutputEvent
		text   strings.Builder
	)
	for _, seg := range segs {
		switch seg.Type {
		case "thinking":
			events = append(events, domain.Thinking{Content: seg.Thinking})
		case "text":
			text.WriteString(seg.Text)
		}
	}
	if text.Len() > 0 {
		events = append(events, domain.AssistantMessage{Content: text.String()})
	}
	return events
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func errorText(raw json.RawMessage) string {
	if s := stringField(raw); s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// rawToString returns a JSON string value as-is and any other value in its
// compact JSON encoding.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}
