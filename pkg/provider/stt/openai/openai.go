// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (POST /v1/audio/transcriptions).
//
// Each chunk is uploaded as an in-memory WAV file. The SDK's own retry loop is
// disabled because the dictation dispatcher owns retry and backoff.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

const providerName = "openai"

// Ensure Provider implements the stt.Provider interface.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Namer    = (*Provider)(nil)
)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	language     string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server speaking
// the same API (e.g., a self-hosted faster-whisper gateway) works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Name implements stt.Namer.
func (p *Provider) Name() string { return providerName }

// Model returns the configured model ID.
func (p *Provider) Model() string { return p.model }

// Transcribe uploads one chunk and returns its transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	format := req.Format
	if format.SampleRate == 0 {
		format = audio.STTFormat
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio.EncodeWAV(req.Audio, format)), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if prompt := buildPrompt(req); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, classify(err)
	}

	return stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: lang,
		Duration: format.Duration(len(req.Audio)),
	}, nil
}

// buildPrompt folds keyword hints into the free-text prompt; the API has no
// separate keyword field.
func buildPrompt(req stt.Request) string {
	parts := make([]string, 0, len(req.Keywords)+1)
	for _, k := range req.Keywords {
		if k.Keyword != "" {
			parts = append(parts, k.Keyword)
		}
	}
	prompt := strings.Join(parts, ", ")
	if req.Prompt != "" {
		if prompt != "" {
			prompt += ". "
		}
		prompt += req.Prompt
	}
	return prompt
}

// classify converts SDK errors to *stt.Error.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return stt.NewStatusError(providerName, apiErr.StatusCode, err)
	}
	return &stt.Error{Provider: providerName, Kind: stt.Classify(err), Err: err}
}
