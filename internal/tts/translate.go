package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// maxChunkRunes is the longest text the translate endpoint accepts per
// request.
const maxChunkRunes = 100

// TranslateSynth fetches MP3 speech from the Google Translate TTS endpoint.
// Long text is split into chunks whose MP3 streams are concatenated.
type TranslateSynth struct {
	endpoint string
	language string
	client   *http.Client
}

func NewTranslateSynth(endpoint, language string) *TranslateSynth {
	return &TranslateSynth{
		endpoint: endpoint,
		language: language,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *TranslateSynth) Synthesize(ctx context.Context, text string) (Audio, error) {
	chunks := SplitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return Audio{}, fmt.Errorf("nothing to synthesize")
	}
	var mp3 []byte
	for i, chunk := range chunks {
		data, err := s.fetch(ctx, chunk, i, len(chunks))
		if err != nil {
			return Audio{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		mp3 = append(mp3, data...)
	}
	return Audio{Format: FormatMP3, Data: mp3}, nil
}

func (s *TranslateSynth) fetch(ctx context.Context, chunk string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", s.language)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("translate tts status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SplitText breaks text into chunks of at most limit runes, preferring
// sentence punctuation and then word boundaries. Words longer than limit are
// cut.
func SplitText(text string, limit int) []string {
	var chunks []string
	for _, sentence := range splitSentences(text) {
		var current strings.Builder
		flush := func() {
			if s := strings.TrimSpace(current.String()); s != "" {
				chunks = append(chunks, s)
			}
			current.Reset()
		}
		for _, word := range strings.Fields(sentence) {
			for utf8.RuneCountInString(word) > limit {
				flush()
				r := []rune(word)
				chunks = append(chunks, string(r[:limit]))
				word = string(r[limit:])
			}
			size := utf8.RuneCountInString(current.String())
			if size > 0 && size+1+utf8.RuneCountInString(word) > limit {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(word)
		}
		flush()
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', ';', ':', '\n':
			out = append(out, text[start:i+utf8.RuneLen(r)])
			start = i + utf8.RuneLen(r)
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
