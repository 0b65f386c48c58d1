package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(audio.STTFormat, stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_RequestOverrides(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("base"), WithLanguage("de-DE"))

	rawURL, err := p.buildURL(audio.STTFormat, stt.Request{
		Language: "fr",
		Keywords: []stt.KeywordBoost{{Keyword: "Kubernetes", Boost: 5}, {Keyword: "Grafana"}},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "fr", q.Get("language"))
	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "Kubernetes:5" || kws[1] != "Grafana" {
		t.Errorf("keywords = %v", kws)
	}
}

// ---- response parsing ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	t.Parallel()
	raw := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello there.","confidence":0.9,
		"words":[{"word":"hello","punctuated_word":"Hello","start":0.1,"end":0.4,"confidence":0.95}]}]}}`

	r, ok := parseDeepgramResponse([]byte(raw))
	if !ok {
		t.Fatal("expected message to parse")
	}
	if !r.final || r.text != "Hello there." {
		t.Errorf("got final=%v text=%q", r.final, r.text)
	}
	if len(r.words) != 1 || r.words[0].Word != "Hello" || r.words[0].Start != 100*time.Millisecond {
		t.Errorf("words = %+v", r.words)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		`{"type":"Metadata"}`,
		`{"type":"Results","channel":{"alternatives":[]}}`,
		`not json`,
	} {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("expected %q to be ignored", raw)
		}
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- end-to-end against a fake server ----

// newFakeDeepgram accepts one stream, counts audio bytes until CloseStream,
// then answers with the given finals and closes normally.
func newFakeDeepgram(t *testing.T, finals []string, gotBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		// An interim result that must be ignored.
		_ = c.Write(ctx, websocket.MessageText, resultMsg("ignored", false))
		for _, f := range finals {
			_ = c.Write(ctx, websocket.MessageText, resultMsg(f, true))
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func resultMsg(text string, final bool) []byte {
	msg := map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.8}},
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

func TestTranscribe_JoinsFinals(t *testing.T) {
	t.Parallel()

	var gotBytes atomic.Int64
	srv := newFakeDeepgram(t, []string{"the quick", "brown fox"}, &gotBytes)
	p, _ := New("test-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	pcm := make([]byte, audio.STTFormat.Bytes(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := p.Transcribe(ctx, stt.Request{Audio: pcm, Format: audio.STTFormat})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "the quick brown fox" {
		t.Errorf("Text = %q", res.Text)
	}
	if gotBytes.Load() != int64(len(pcm)) {
		t.Errorf("server received %d bytes, want %d", gotBytes.Load(), len(pcm))
	}
	if res.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", res.Duration)
	}
}

func TestTranscribe_Unauthorized(t *testing.T) {
	t.Parallel()

	var gotBytes atomic.Int64
	srv := newFakeDeepgram(t, nil, &gotBytes)
	p, _ := New("wrong-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320)})
	var sttErr *stt.Error
	if !errors.As(err, &sttErr) {
		t.Fatalf("expected *stt.Error, got %v", err)
	}
	if sttErr.Kind != stt.KindAuth {
		t.Errorf("Kind = %v, want auth", sttErr.Kind)
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
