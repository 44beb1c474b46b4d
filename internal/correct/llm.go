package correct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/logging"
)

var (
	rePromptEcho = regexp.MustCompile(`^Corrected Text:\s*`)
	reQuoted     = regexp.MustCompile(`^"(.*)"$`)
)

// LLMClient asks a local Ollama model to repair transcripts the deterministic
// layers could not fix with confidence. It is strictly best-effort: every
// failure mode returns the input unchanged.
type LLMClient struct {
	cfg      config.LLMConfig
	glossary []string
	client   *http.Client

	calls    int64
	failures int64
}

// NewLLMClient builds a client whose prompts carry up to the configured
// number of glossary terms. The glossary must already be sorted.
func NewLLMClient(cfg config.LLMConfig, glossary []string) *LLMClient {
	if len(glossary) > cfg.MaxGlossaryTerms {
		glossary = glossary[:cfg.MaxGlossaryTerms]
	}
	return &LLMClient{
		cfg:      cfg,
		glossary: glossary,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Correct sends text to the model and returns its repaired form, or the
// input unchanged when the model is unavailable, errors, or answers blank.
func (c *LLMClient) Correct(ctx context.Context, text string) string {
	if !c.cfg.Enabled {
		return text
	}
	atomic.AddInt64(&c.calls, 1)

	prompt := fmt.Sprintf(`You are an expert editor and transcriber for high-fantasy media, specializing in Dungeons & Dragons and the Cosmere. Your task is to correct a garbled sentence from a voice-to-text system and make it grammatically correct and coherent.

Use the provided lexicon of known fantasy terms to help you. The output should be ONLY the corrected sentence, without any explanations.

Lexicon of Known Terms:
%s

Garbled Text: "%s"
Corrected Text:`, strings.Join(c.glossary, ", "), text)

	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.1,
			TopP:        0.9,
			Stop:        []string{"\n", "Garbled Text:", "Corrected Text:"},
		},
	})
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		return text
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		return text
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		logging.Debugw("llm correction unavailable", "err", err)
		return text
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&c.failures, 1)
		logging.Debugw("llm correction rejected", "status", resp.StatusCode)
		return text
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		atomic.AddInt64(&c.failures, 1)
		return text
	}

	corrected := strings.TrimSpace(out.Response)
	corrected = rePromptEcho.ReplaceAllString(corrected, "")
	corrected = reQuoted.ReplaceAllString(corrected, "$1")
	corrected = strings.TrimSpace(corrected)
	if corrected == "" {
		return text
	}
	return corrected
}

// LLMStats reports call counters.
type LLMStats struct {
	Calls    int64
	Failures int64
}

func (c *LLMClient) Stats() LLMStats {
	return LLMStats{
		Calls:    atomic.LoadInt64(&c.calls),
		Failures: atomic.LoadInt64(&c.failures),
	}
}
