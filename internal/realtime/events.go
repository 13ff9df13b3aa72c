package realtime

import "encoding/json"

// Client -> provider message types.
const (
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeAudioCommit    = "input_audio_buffer.commit"
	TypeResponseCreate = "response.create"
)

// Provider -> client event types.
const (
	TypeConnected             = "connected"
	TypeTranscriptionComplete = "conversation.item.input_audio_transcription.completed"
	TypeFunctionCallDone      = "response.function_call_arguments.done"
	TypeResponseDone          = "response.done"
	TypeError                 = "error"
)

// ClientEvent is a message sent upstream to the speech provider.
type ClientEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// ServerEvent is a provider-originated event. Raw preserves the exact bytes
// received so the bridge can relay events downstream unmodified.
type ServerEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Error      string `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// parseServerEvent decodes a provider frame, keeping the original bytes.
func parseServerEvent(data []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ServerEvent{}, err
	}
	evt.Raw = append(json.RawMessage(nil), data...)
	return evt, nil
}
