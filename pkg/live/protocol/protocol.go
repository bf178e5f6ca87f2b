// Package protocol defines the wire messages exchanged with the Gemini
// bidirectional generate-content WebSocket endpoint.
//
// The inbound protocol has no single concrete frame type: a server message is
// a bag of optional fields whose presence discriminates the variant.
// ParseServerMessage folds that shape into an explicit tagged union and
// normalizes every optional sub-field so callers never have to nil-check the
// raw JSON structure.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MIME type prefixes used to route realtime input and inbound parts.
const (
	AudioMIMEPrefix = "audio/"
	ImageMIMEPrefix = "image/"
)

// Blob is base64 payload data tagged with a MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one unit of content inside a turn: either text or inline data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// IsAudio reports whether the part carries inline audio data.
func (p Part) IsAudio() bool {
	return p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, AudioMIMEPrefix)
}

// Content is a role-tagged sequence of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// PrebuiltVoiceConfig selects a named synthesis voice.
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

// VoiceConfig wraps the voice selection.
type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

// SpeechConfig configures spoken output.
type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

// GenerationConfig carries the generation options sent at setup time.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
	Temperature        *float64      `json:"temperature,omitempty"`
}

// FunctionDeclaration describes one callable tool to the model.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool groups function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// Setup is the connect-time configuration frame. It is immutable for the
// lifetime of a connection; changing it requires reconnecting.
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []Tool            `json:"tools,omitempty"`
	EnableAffectiveDialog    bool              `json:"enableAffectiveDialog,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

// RealtimeInput is one outbound realtime media frame. Exactly one of Audio
// or Video is set per frame.
type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
	Video *Blob `json:"video,omitempty"`
}

// FunctionResponse answers a prior tool call, correlated by its opaque id.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// ToolResponse carries one or more function responses back to the model.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// ClientContent is a complete client text turn.
type ClientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// ClientMessage is the outbound envelope; exactly one field is populated.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
}

// FunctionCall is a normalized tool invocation request from the model.
// Missing name/id/args on the wire default to blank values rather than
// failing the parse.
type FunctionCall struct {
	Name string         `json:"name"`
	ID   string         `json:"id"`
	Args map[string]any `json:"args"`
}

// MessageKind discriminates the server message union.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindSetupComplete
	KindServerContent
	KindToolCall
	KindToolCallCancellation
)

// String returns the wire-ish name of the kind, for logging.
func (k MessageKind) String() string {
	switch k {
	case KindSetupComplete:
		return "setupComplete"
	case KindServerContent:
		return "serverContent"
	case KindToolCall:
		return "toolCall"
	case KindToolCallCancellation:
		return "toolCallCancellation"
	default:
		return "unknown"
	}
}

// ServerContent is the normalized serverContent variant. Interrupted
// pre-empts TurnComplete and ModelTurn when processed; that ordering is the
// consumer's concern, this type only carries the flags.
type ServerContent struct {
	Interrupted         bool
	TurnComplete        bool
	ModelTurn           []Part
	OutputTranscription string
}

// ServerMessage is the parsed inbound union. Exactly one variant field is
// populated, matching Kind.
type ServerMessage struct {
	Kind MessageKind

	Content       *ServerContent
	FunctionCalls []FunctionCall
	CancelledIDs  []string
}

type serverFrame struct {
	SetupComplete *struct{} `json:"setupComplete"`

	ServerContent *struct {
		Interrupted  bool `json:"interrupted"`
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    *struct {
			Parts []Part `json:"parts"`
		} `json:"modelTurn"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
	} `json:"serverContent"`

	ToolCall *struct {
		FunctionCalls []FunctionCall `json:"functionCalls"`
	} `json:"toolCall"`

	ToolCallCancellation *struct {
		IDs []string `json:"ids"`
	} `json:"toolCallCancellation"`
}

// ParseServerMessage decodes one inbound frame into the tagged union.
// Unknown or empty envelopes parse as KindUnknown; only malformed JSON is an
// error, so a single odd message never has to take down the session.
func ParseServerMessage(data []byte) (*ServerMessage, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode server frame: %w", err)
	}

	switch {
	case frame.ToolCall != nil:
		calls := make([]FunctionCall, 0, len(frame.ToolCall.FunctionCalls))
		for _, call := range frame.ToolCall.FunctionCalls {
			if call.Args == nil {
				call.Args = map[string]any{}
			}
			calls = append(calls, call)
		}
		return &ServerMessage{Kind: KindToolCall, FunctionCalls: calls}, nil

	case frame.ToolCallCancellation != nil:
		ids := frame.ToolCallCancellation.IDs
		if ids == nil {
			ids = []string{}
		}
		return &ServerMessage{Kind: KindToolCallCancellation, CancelledIDs: ids}, nil

	case frame.ServerContent != nil:
		content := &ServerContent{
			Interrupted:  frame.ServerContent.Interrupted,
			TurnComplete: frame.ServerContent.TurnComplete,
		}
		if frame.ServerContent.ModelTurn != nil {
			content.ModelTurn = frame.ServerContent.ModelTurn.Parts
		}
		if frame.ServerContent.OutputTranscription != nil {
			content.OutputTranscription = frame.ServerContent.OutputTranscription.Text
		}
		return &ServerMessage{Kind: KindServerContent, Content: content}, nil

	case frame.SetupComplete != nil:
		return &ServerMessage{Kind: KindSetupComplete}, nil

	default:
		return &ServerMessage{Kind: KindUnknown}, nil
	}
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// AudioBlob builds an audio blob with the standard PCM MIME type for the
// given sample rate.
func AudioBlob(b64 string, sampleRateHz int) *Blob {
	return &Blob{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", sampleRateHz),
		Data:     b64,
	}
}
