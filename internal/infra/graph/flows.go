package graph

import (
	"fmt"
	"sort"

	"agentflow/internal/domain"
)

const (
	FlowChat  = "chat"
	FlowVoice = "voice"
)

// ChatFlow is the text agent: input, processing, llm, then either a direct
// response or the MCP tool branch followed by a synthesis model call.
func ChatFlow() *Graph {
	return mustBuild(FlowChat,
		[]domain.Stage{
			{ID: "input", Kind: domain.StageInput, Label: "Message Input"},
			{ID: "processing", Kind: domain.StageTransform, Label: "Processing"},
			{ID: "llm", Kind: domain.StageModelCall, Label: "LLM", RequiresCredential: true},
			{ID: "route", Kind: domain.StageDecision, Label: "Tools?"},
			{ID: "mcp", Kind: domain.StageToolCall, Label: "MCP Tools"},
			{ID: "synthesis", Kind: domain.StageModelCall, Label: "LLM (tool results)", RequiresCredential: true},
			{ID: "response", Kind: domain.StageOutput, Label: "Response"},
		},
		[]domain.Edge{
			{ID: "input-processing", From: "input", To: "processing"},
			{ID: "processing-llm", From: "processing", To: "llm"},
			{ID: "llm-route", From: "llm", To: "route"},
			{ID: "route-response", From: "route", To: "response", Condition: domain.EdgeNoTools},
			{ID: "route-mcp", From: "route", To: "mcp", Condition: domain.EdgeToolsNeeded},
			{ID: "mcp-synthesis", From: "mcp", To: "synthesis"},
			{ID: "synthesis-response", From: "synthesis", To: "response"},
		},
	)
}

// VoiceFlow is the voice agent. Speech-to-text and text-to-speech call the
// provider and therefore require the credential.
func VoiceFlow() *Graph {
	return mustBuild(FlowVoice,
		[]domain.Stage{
			{ID: "start", Kind: domain.StageInput, Label: "Start"},
			{ID: "mic-on", Kind: domain.StageTransform, Label: "Mic On?"},
			{ID: "vad", Kind: domain.StageTransform, Label: "VAD"},
			{ID: "stt", Kind: domain.StageTransform, Label: "STT", RequiresCredential: true},
			{ID: "llm", Kind: domain.StageModelCall, Label: "LLM", RequiresCredential: true},
			{ID: "route", Kind: domain.StageDecision, Label: "Tools?"},
			{ID: "mcp", Kind: domain.StageToolCall, Label: "MCP"},
			{ID: "synthesis", Kind: domain.StageModelCall, Label: "LLM (tool results)", RequiresCredential: true},
			{ID: "tts", Kind: domain.StageTransform, Label: "TTS", RequiresCredential: true},
			{ID: "audio-response", Kind: domain.StageOutput, Label: "Audio Response"},
		},
		[]domain.Edge{
			{ID: "e-start-mic", From: "start", To: "mic-on"},
			{ID: "e-mic-vad", From: "mic-on", To: "vad"},
			{ID: "e-vad-stt", From: "vad", To: "stt"},
			{ID: "e-stt-llm", From: "stt", To: "llm"},
			{ID: "e-llm-route", From: "llm", To: "route"},
			{ID: "e-route-tts", From: "route", To: "tts", Condition: domain.EdgeNoTools},
			{ID: "e-route-mcp", From: "route", To: "mcp", Condition: domain.EdgeToolsNeeded},
			{ID: "e-mcp-synthesis", From: "mcp", To: "synthesis"},
			{ID: "e-synthesis-tts", From: "synthesis", To: "tts"},
			{ID: "e-tts-audio", From: "tts", To: "audio-response"},
		},
	)
}

var builtins = map[string]func() *Graph{
	FlowChat:  ChatFlow,
	FlowVoice: VoiceFlow,
}

// Lookup returns a built-in flow by name.
func Lookup(name string) (*Graph, error) {
	build, ok := builtins[name]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "graph.lookup", fmt.Sprintf("unknown flow %q (known: %v)", name, Names()), nil)
	}
	return build(), nil
}

// Names lists the built-in flows.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustBuild(name string, stages []domain.Stage, edges []domain.Edge) *Graph {
	g, err := New(name, stages, edges)
	if err != nil {
		panic(err)
	}
	return g
}
