package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/leoscribe/internal/config"
)

// Whisper posts WAV audio to a whisper-style HTTP service and reads the
// transcript from its JSON response.
type Whisper struct {
	cfg        config.EngineConfig
	sampleRate int
	channels   int
	client     *http.Client
}

func NewWhisper(cfg config.EngineConfig, sampleRate, channels int) *Whisper {
	return &Whisper{
		cfg:        cfg,
		sampleRate: sampleRate,
		channels:   channels,
		client:     &http.Client{},
	}
}

func (w *Whisper) Name() string { return w.cfg.Name }

func (w *Whisper) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	endpoint := w.cfg.URL
	if u, err := url.Parse(endpoint); err == nil {
		q := u.Query()
		if w.cfg.Language != "" {
			q.Set("language", w.cfg.Language)
		}
		if w.cfg.BeamSize > 0 {
			q.Set("beam_size", strconv.Itoa(w.cfg.BeamSize))
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	rctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, endpoint, bytes.NewReader(buildWAV(pcm, w.sampleRate, w.channels)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
