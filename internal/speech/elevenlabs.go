package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabs synthesizes confirmations over the HTTP streaming endpoint.
type ElevenLabs struct {
	APIKey  string
	VoiceID string
	Client  *http.Client
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	return &ElevenLabs{APIKey: apiKey, VoiceID: voiceID, Client: &http.Client{}}
}

func (e *ElevenLabs) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.stream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabs) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":        0.4,
			"similarity_boost": 0.7,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}
