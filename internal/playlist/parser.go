// Package playlist parses the line-oriented media manifest that describes
// one clip: an encryption directive plus segment URLs in playback order.
package playlist

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks playlists that violate the expected structure:
	// multiple key directives, a segment before the key directive, or an
	// undecodable IV.
	ErrMalformed = errors.New("malformed playlist")
	// ErrKeyFetch marks failures retrieving the decryption key.
	ErrKeyFetch = errors.New("playlist key fetch failed")
)

const keyDirectivePrefix = "#EXT-X-KEY"

// Encryption carries the symmetric key and IV shared by all segments of one
// playlist. A zero Encryption means the playlist is not encrypted.
type Encryption struct {
	Key []byte
	IV  []byte
}

// Enabled reports whether the playlist declared an encryption key.
func (e Encryption) Enabled() bool {
	return len(e.Key) > 0
}

// Segment is one ordered element of a playlist. Index is 1-based and
// contiguous in encounter order.
type Segment struct {
	Index int
	URL   string
}

// Fetcher retrieves the raw bytes behind a URL, used for the key fetch.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Parse scans the manifest body, resolves the encryption directive through
// fetch, and returns the ordered segment list. Playlists with more than one
// key directive, or with a segment line preceding the key directive, are
// rejected rather than decrypted with a possibly stale key.
func Parse(ctx context.Context, body []byte, fetch Fetcher) (Encryption, []Segment, error) {
	lines := strings.Split(string(body), "\n")

	keyLine := -1
	firstSegment := -1
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, keyDirectivePrefix):
			if keyLine >= 0 {
				return Encryption{}, nil, fmt.Errorf("%w: multiple key directives", ErrMalformed)
			}
			keyLine = i
		case isSegmentLine(line):
			if firstSegment < 0 {
				firstSegment = i
			}
		}
	}

	var enc Encryption
	if keyLine >= 0 {
		if firstSegment >= 0 && firstSegment < keyLine {
			return Encryption{}, nil, fmt.Errorf("%w: segment reference precedes key directive", ErrMalformed)
		}
		parsed, err := resolveKey(ctx, strings.TrimSpace(lines[keyLine]), fetch)
		if err != nil {
			return Encryption{}, nil, err
		}
		enc = parsed
	}

	var segments []Segment
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !isSegmentLine(line) {
			continue
		}
		segments = append(segments, Segment{Index: len(segments) + 1, URL: line})
	}
	return enc, segments, nil
}

func isSegmentLine(line string) bool {
	return strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")
}

func resolveKey(ctx context.Context, line string, fetch Fetcher) (Encryption, error) {
	keyURL, err := attrValue(line, `URI="`, `"`)
	if err != nil {
		return Encryption{}, fmt.Errorf("%w: key directive missing URI", ErrMalformed)
	}

	ivHex, err := attrValue(line, "IV=", ",")
	if err != nil {
		return Encryption{}, fmt.Errorf("%w: key directive missing IV", ErrMalformed)
	}
	ivHex = strings.TrimPrefix(strings.TrimPrefix(ivHex, "0x"), "0X")
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return Encryption{}, fmt.Errorf("%w: decode IV: %v", ErrMalformed, err)
	}

	if fetch == nil {
		return Encryption{}, fmt.Errorf("%w: no key fetcher provided", ErrKeyFetch)
	}
	key, err := fetch(ctx, keyURL)
	if err != nil {
		return Encryption{}, fmt.Errorf("%w: %s: %w", ErrKeyFetch, keyURL, err)
	}
	if len(key) == 0 {
		return Encryption{}, fmt.Errorf("%w: %s: empty key body", ErrKeyFetch, keyURL)
	}

	return Encryption{Key: key, IV: iv}, nil
}

// attrValue extracts the value following marker up to terminator (or end of
// line when the terminator is absent).
func attrValue(line, marker, terminator string) (string, error) {
	start := strings.Index(line, marker)
	if start < 0 {
		return "", errors.New("marker not found")
	}
	rest := line[start+len(marker):]
	if end := strings.Index(rest, terminator); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", errors.New("empty value")
	}
	return rest, nil
}
