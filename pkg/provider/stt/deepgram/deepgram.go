// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens a short-lived stream: the chunk's PCM is sent in
// binary frames, a CloseStream message flushes the recogniser, and every
// final result received before the server closes the socket is joined into
// the chunk's transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/stt"
)

const (
	providerName     = "deepgram"
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendSlice is the amount of audio per binary frame.
	sendSlice = 250 * time.Millisecond
)

// Compile-time assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Namer    = (*Provider)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint (ws:// or wss://).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Namer.
func (p *Provider) Name() string { return providerName }

// Transcribe streams one chunk to Deepgram and returns the joined finals.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	format := req.Format
	if format.SampleRate == 0 {
		format = audio.STTFormat
	}

	wsURL, err := p.buildURL(format, req)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Kind: stt.KindPermanent, Err: fmt.Errorf("build URL: %w", err)}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return stt.Result{}, stt.NewStatusError(providerName, resp.StatusCode, fmt.Errorf("dial: %w", err))
		}
		return stt.Result{}, &stt.Error{Provider: providerName, Kind: stt.Classify(err), Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.writeAudio(ctx, conn, req.Audio, format)
	}()

	res, readErr := p.readResults(ctx, conn)
	if readErr != nil {
		// Unblocks a writer stuck on a peer that stopped reading.
		conn.CloseNow()
	}
	if err := <-writeErr; err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Kind: stt.Classify(readErr), Err: readErr}
	}

	conn.Close(websocket.StatusNormalClosure, "chunk done")
	res.Duration = format.Duration(len(req.Audio))
	return res, nil
}

// writeAudio sends pcm in fixed slices followed by CloseStream.
func (p *Provider) writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, format audio.Format) error {
	step := max(format.Bytes(sendSlice), 2)
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("write close stream: %w", err)
	}
	return nil
}

// readResults collects final transcripts until the server closes the stream.
func (p *Provider) readResults(ctx context.Context, conn *websocket.Conn) (stt.Result, error) {
	var (
		texts      []string
		words      []stt.WordDetail
		confidence float64
		finals     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Result{}, ctx.Err()
			}
			return stt.Result{}, fmt.Errorf("read: %w", err)
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok {
			if isMetadata(msg) {
				break
			}
			continue
		}
		if !r.final {
			continue
		}
		if r.text != "" {
			texts = append(texts, r.text)
		}
		words = append(words, r.words...)
		confidence += r.confidence
		finals++
	}

	res := stt.Result{
		Text:  strings.Join(texts, " "),
		Words: words,
	}
	if finals > 0 {
		res.Confidence = confidence / float64(finals)
	}
	return res, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (p *Provider) buildURL(format audio.Format, req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(max(format.Channels, 1)))

	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		if kw.Boost == 0 {
			q.Add("keywords", kw.Keyword)
			continue
		}
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- wire format ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	final      bool
	confidence float64
	words      []stt.WordDetail
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) for Results events, or (zero, false) if the message
// should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		words = append(words, stt.WordDetail{
			Word:       word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return result{
		text:       strings.TrimSpace(alt.Transcript),
		final:      resp.IsFinal,
		confidence: alt.Confidence,
		words:      words,
	}, true
}

// isMetadata reports whether msg is the Metadata event Deepgram sends as the
// last message of a stream.
func isMetadata(msg []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(msg, &head) == nil && head.Type == "Metadata"
}
