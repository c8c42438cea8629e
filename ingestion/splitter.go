package ingestion

import "strings"

// Splitter cuts text on Separator and merges the pieces into chunks of at most
// ChunkSize runes, carrying up to ChunkOverlap runes of the previous chunk forward.
// An empty Separator turns it into a sliding window over runes where consecutive
// chunks overlap by exactly ChunkOverlap.
type Splitter struct {
	Separator    string
	ChunkSize    int
	ChunkOverlap int
}

func (s Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" || s.ChunkSize <= 0 {
		return nil
	}

	overlap := s.ChunkOverlap
	if overlap < 0 || overlap >= s.ChunkSize {
		overlap = 0
	}

	if s.Separator == "" {
		return window(text, s.ChunkSize, overlap)
	}

	pieces := make([]string, 0)
	for _, piece := range strings.Split(text, s.Separator) {
		if piece == "" {
			continue
		}
		if runeLen(piece) > s.ChunkSize {
			pieces = append(pieces, window(piece, s.ChunkSize, overlap)...)
			continue
		}
		pieces = append(pieces, piece)
	}

	return s.merge(pieces, overlap)
}

func (s Splitter) merge(pieces []string, overlap int) []string {
	sepLen := runeLen(s.Separator)
	chunks := make([]string, 0)
	current := make([]string, 0)
	total := 0

	joinLen := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	for _, piece := range pieces {
		pieceLen := runeLen(piece)

		if len(current) > 0 && total+joinLen(len(current))+pieceLen > s.ChunkSize {
			if chunk := strings.TrimSpace(strings.Join(current, s.Separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Drop leading pieces until what remains fits the overlap and leaves room for piece.
			for total > overlap || (total > 0 && total+joinLen(len(current))+pieceLen > s.ChunkSize) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}

		total += joinLen(len(current)) + pieceLen
		current = append(current, piece)
	}

	if chunk := strings.TrimSpace(strings.Join(current, s.Separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func window(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	stride := size - overlap
	chunks := make([]string, 0, len(runes)/stride+1)
	for start := 0; ; start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := string(runes[start:end]); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}
