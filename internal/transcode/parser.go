package transcode

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
)

// eventPrefix pairs a JSON prefix substring with the event kind it
// introduces, in first-match priority order (§4.8's prefix table).
type eventPrefix struct {
	prefix string
	kind   string
}

var eventPrefixes = []eventPrefix{
	{`{"content":`, "content"},
	{`{"name":`, "tool_start"},
	{`{"input":`, "tool_input"},
	{`{"stop":`, "tool_stop"},
	{`{"followupPrompt":`, "followup"},
	{`{"usage":`, "usage"},
	{`{"contextUsagePercentage":`, "context_usage"},
}

// ToolCall is a finalized or in-progress tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Event is one decoded unit handed to the downstream chat-completions
// encoder.
type Event struct {
	Kind            string
	Text            string
	ToolCall        *ToolCall
	Usage           float64
	ContextUsagePct float64
}

// Parser accumulates decoded frame payloads and emits Events, mirroring
// the teacher's Python AwsEventStreamParser state machine field-for-field.
type Parser struct {
	buffer          string
	lastContent     *string
	currentToolCall *ToolCall
	finalized       []ToolCall
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// FindMatchingBrace returns the index of the closing brace matching the
// opening brace at startPos, honouring double-quoted strings and
// backslash escapes, or -1 if no complete match exists yet.
func FindMatchingBrace(text string, startPos int) int {
	if startPos >= len(text) || text[startPos] != '{' {
		return -1
	}
	depth := 0
	inString := false
	escaped := false

	for i := startPos; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Feed appends a decoded frame payload to the internal buffer and returns
// every complete event the new bytes made available.
func (p *Parser) Feed(payload []byte) []Event {
	p.buffer += string(payload)

	var events []Event
	for {
		pos, kind := p.earliestPrefix()
		if pos == -1 {
			break
		}
		end := FindMatchingBrace(p.buffer, pos)
		if end == -1 {
			break
		}

		jsonStr := p.buffer[pos : end+1]
		p.buffer = p.buffer[end+1:]

		var data map[string]any
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			continue
		}
		if ev, ok := p.process(data, kind); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (p *Parser) earliestPrefix() (int, string) {
	earliestPos := -1
	earliestKind := ""
	for _, ep := range eventPrefixes {
		pos := indexOf(p.buffer, ep.prefix)
		if pos != -1 && (earliestPos == -1 || pos < earliestPos) {
			earliestPos = pos
			earliestKind = ep.kind
		}
	}
	return earliestPos, earliestKind
}

func indexOf(haystack, needle string) int {
	n := len(needle)
	if n == 0 || n > len(haystack) {
		return -1
	}
	for i := 0; i+n <= len(haystack); i++ {
		if haystack[i:i+n] == needle {
			return i
		}
	}
	return -1
}

func (p *Parser) process(data map[string]any, kind string) (Event, bool) {
	switch kind {
	case "content":
		return p.processContent(data)
	case "tool_start":
		p.processToolStart(data)
		return Event{}, false
	case "tool_input":
		p.processToolInput(data)
		return Event{}, false
	case "tool_stop":
		p.processToolStop(data)
		return Event{}, false
	case "usage":
		return Event{Kind: "usage", Usage: asFloat(data["usage"])}, true
	case "context_usage":
		return Event{Kind: "context_usage", ContextUsagePct: asFloat(data["contextUsagePercentage"])}, true
	default:
		return Event{}, false
	}
}

func (p *Parser) processContent(data map[string]any) (Event, bool) {
	if truthy(data["followupPrompt"]) {
		return Event{}, false
	}
	content, _ := data["content"].(string)
	if p.lastContent != nil && *p.lastContent == content {
		return Event{}, false
	}
	p.lastContent = &content
	return Event{Kind: "content", Text: content}, true
}

func (p *Parser) processToolStart(data map[string]any) {
	if p.currentToolCall != nil {
		p.finalizeToolCall()
	}
	id, _ := data["toolUseId"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	name, _ := data["name"].(string)
	input, _ := data["input"].(string)
	p.currentToolCall = &ToolCall{ID: id, Name: name, Arguments: input}
	if truthy(data["stop"]) {
		p.finalizeToolCall()
	}
}

func (p *Parser) processToolInput(data map[string]any) {
	if p.currentToolCall == nil {
		return
	}
	input, _ := data["input"].(string)
	p.currentToolCall.Arguments += input
}

func (p *Parser) processToolStop(data map[string]any) {
	if p.currentToolCall != nil && truthy(data["stop"]) {
		p.finalizeToolCall()
	}
}

// finalizeToolCall normalises the accumulated arguments string (re-encoding
// it if it parses as JSON, keeping the raw string otherwise) and appends
// the call to the finalized list.
func (p *Parser) finalizeToolCall() {
	if p.currentToolCall == nil {
		return
	}
	call := *p.currentToolCall
	var parsed any
	if err := json.Unmarshal([]byte(call.Arguments), &parsed); err == nil {
		if normalised, err := json.Marshal(parsed); err == nil {
			call.Arguments = string(normalised)
		}
	}
	p.finalized = append(p.finalized, call)
	p.currentToolCall = nil
}

// ToolCalls finalizes any in-progress call (end-of-stream case) and
// returns the deduplicated list of completed tool calls.
func (p *Parser) ToolCalls() []ToolCall {
	if p.currentToolCall != nil {
		p.finalizeToolCall()
	}
	return dedupeToolCalls(p.finalized)
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	seen := make(map[string]bool, len(calls))
	var out []ToolCall
	for _, c := range calls {
		key := c.Name + "-" + c.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

var bracketCallPattern = regexp.MustCompile(`(?i)\[Called\s+(\w+)\s+with\s+args:\s*`)

// ParseBracketToolCalls recovers `[Called name with args: {...}]` textual
// tool calls from concatenated response text, as a fallback for models
// that emit calls as plain text instead of structured events.
func ParseBracketToolCalls(text string) []ToolCall {
	var calls []ToolCall
	matches := bracketCallPattern.FindAllStringSubmatchIndex(text, -1)
	for _, m := range matches {
		name := text[m[2]:m[3]]
		argsStart := indexOf(text[m[1]:], "{")
		if argsStart == -1 {
			continue
		}
		argsStart += m[1]
		argsEnd := FindMatchingBrace(text, argsStart)
		if argsEnd == -1 {
			continue
		}
		jsonStr := text[argsStart : argsEnd+1]
		var parsed any
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
			continue
		}
		normalised, err := json.Marshal(parsed)
		if err != nil {
			continue
		}
		calls = append(calls, ToolCall{ID: uuid.NewString(), Name: name, Arguments: string(normalised)})
	}
	return calls
}

// MergeToolCalls combines structured and textual-fallback tool calls,
// deduplicating by (name, arguments).
func MergeToolCalls(structured, textual []ToolCall) []ToolCall {
	return dedupeToolCalls(append(append([]ToolCall{}, structured...), textual...))
}
