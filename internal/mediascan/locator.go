// Package mediascan locates base64-encoded media payloads inside generation
// responses whose JSON shape is not known ahead of time.
package mediascan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNoMedia is reported when no key of the response yields an accepted
// payload; callers fall back to the history lookup.
var ErrNoMedia = errors.New("mediascan: no media payload found")

const (
	// minEncodedLen is the shortest string worth attempting as base64.
	// Shorter values are status strings, not payloads.
	minEncodedLen = 100
	// minPayloadBytes is the smallest decoded blob accepted as media.
	minPayloadBytes = 10000
)

// priorityKeys are checked before everything else regardless of where they
// appear in the response. Remaining keys follow in document order.
var priorityKeys = []string{"output", "result", "video", "image"}

// nestedKeys are the sub-keys inspected inside object values, in order.
var nestedKeys = []string{"data", "content", "file", "video", "image", "output"}

// Candidate is a located payload: the decoded bytes, the dotted path of the
// key that produced them, and the sniffed container format. Format is
// "unknown" when no signature matched; large blobs are accepted either way.
type Candidate struct {
	Data   []byte
	Path   string
	Format string
}

// Scanner walks generation responses looking for an embedded media payload.
type Scanner struct {
	logger zerolog.Logger
}

// New returns a Scanner that traces its decisions through the given logger.
func New(logger zerolog.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Locate finds the single most likely media payload in a JSON response body.
// Search order is priorityKeys first, then the response's own keys in
// document order with duplicates skipped; the first key that yields an
// accepted blob wins and scanning stops. Strings of minEncodedLen characters
// or fewer are never attempted, and a failed base64 decode only skips that
// candidate.
func (s *Scanner) Locate(body []byte) (Candidate, error) {
	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return Candidate{}, fmt.Errorf("mediascan: decode response: %w", err)
	}

	for _, key := range searchOrder(body, response) {
		value, ok := response[key]
		if !ok {
			continue
		}
		if cand, ok := s.inspect(key, value); ok {
			s.logger.Debug().
				Str("path", cand.Path).
				Str("format", cand.Format).
				Int("size", len(cand.Data)).
				Msg("mediascan: payload located")
			return cand, nil
		}
	}

	return Candidate{}, ErrNoMedia
}

func (s *Scanner) inspect(key string, value any) (Candidate, bool) {
	switch v := value.(type) {
	case string:
		if len(v) <= minEncodedLen {
			return Candidate{}, false
		}
		if data, ok := s.decode(key, v); ok {
			return s.accept(key, data)
		}

	case []any:
		if len(v) == 0 {
			return Candidate{}, false
		}
		first, ok := v[0].(string)
		if !ok || len(first) <= minEncodedLen {
			return Candidate{}, false
		}
		path := key + "[0]"
		if data, ok := s.decode(path, first); ok {
			return s.accept(path, data)
		}

	case map[string]any:
		for _, sub := range nestedKeys {
			subValue, ok := v[sub]
			if !ok {
				continue
			}
			switch sv := subValue.(type) {
			case []any:
				if len(sv) == 0 {
					continue
				}
				first, ok := sv[0].(string)
				if !ok || len(first) <= minEncodedLen {
					continue
				}
				path := key + "." + sub + "[0]"
				if data, ok := s.decode(path, first); ok {
					if cand, ok := s.accept(path, data); ok {
						return cand, true
					}
				}
			case string:
				if len(sv) <= minEncodedLen {
					continue
				}
				path := key + "." + sub
				if data, ok := s.decode(path, sv); ok {
					if cand, ok := s.accept(path, data); ok {
						return cand, true
					}
				}
			}
		}
	}

	return Candidate{}, false
}

func (s *Scanner) decode(path, value string) ([]byte, bool) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(value)
	}
	if err != nil {
		s.logger.Debug().Str("path", path).Msg("mediascan: not base64, skipping")
		return nil, false
	}
	return data, true
}

func (s *Scanner) accept(path string, data []byte) (Candidate, bool) {
	if len(data) <= minPayloadBytes {
		s.logger.Debug().
			Str("path", path).
			Int("size", len(data)).
			Msg("mediascan: decoded blob too small, skipping")
		return Candidate{}, false
	}
	format, known := sniffFormat(data)
	if !known {
		s.logger.Warn().
			Str("path", path).
			Int("size", len(data)).
			Msg("mediascan: unrecognized signature on large blob, accepting anyway")
	}
	return Candidate{Data: data, Path: path, Format: format}, true
}

// mp4Prefixes covers the common ISO-BMFF box-size openings plus a bare ftyp.
var mp4Prefixes = [][]byte{
	{0x00, 0x00, 0x00, 0x18},
	{0x00, 0x00, 0x00, 0x1c},
	{0x00, 0x00, 0x00, 0x20},
	{0x00, 0x00, 0x00, 0x14},
	[]byte("ftyp"),
}

func sniffFormat(data []byte) (string, bool) {
	if len(data) < 10 {
		return "unknown", false
	}
	for _, prefix := range mp4Prefixes {
		if bytes.HasPrefix(data, prefix) {
			return "mp4", true
		}
	}
	switch {
	case bytes.HasPrefix(data, []byte("GIF")):
		return "gif", true
	case data[0] == 0xff && data[1] == 0xd8:
		return "jpeg", true
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "png", true
	case bytes.HasPrefix(data, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "webm", true
	}
	return "unknown", false
}

// searchOrder builds the scan order: the fixed priority keys (missing ones
// are skipped at lookup), then the response's remaining keys as they appear
// in the document. Map iteration would randomize the fallback order, so the
// raw body is tokenized once to recover it.
func searchOrder(raw []byte, response map[string]any) []string {
	order := make([]string, 0, len(priorityKeys)+len(response))
	seen := make(map[string]bool, len(priorityKeys)+len(response))
	for _, key := range priorityKeys {
		order = append(order, key)
		seen[key] = true
	}
	for _, key := range documentKeys(raw) {
		if seen[key] {
			continue
		}
		order = append(order, key)
		seen[key] = true
	}
	return order
}

func documentKeys(raw []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return keys
		}
	}
	return keys
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
