package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/leoscribe/internal/config"
)

// OpenAI uploads WAV audio to an OpenAI-compatible transcription endpoint as
// a multipart form. Works against hosted APIs and self-hosted lookalikes.
type OpenAI struct {
	cfg        config.EngineConfig
	sampleRate int
	channels   int
	client     *http.Client
}

func NewOpenAI(cfg config.EngineConfig, sampleRate, channels int) *OpenAI {
	return &OpenAI{
		cfg:        cfg,
		sampleRate: sampleRate,
		channels:   channels,
		client:     &http.Client{},
	}
}

func (o *OpenAI) Name() string { return o.cfg.Name }

func (o *OpenAI) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(buildWAV(pcm, o.sampleRate, o.channels)); err != nil {
		return "", err
	}
	if o.cfg.Language != "" {
		if err := mw.WriteField("language", o.cfg.Language); err != nil {
			return "", err
		}
	}
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, o.cfg.URL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
