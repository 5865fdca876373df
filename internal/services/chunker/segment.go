package chunker

import "strings"

// segment is a run of lines that must be packed together or kept atomic.
type segment struct {
	text    string
	isTable bool
}

// packedChunk is the final chunk text with its table flag.
type packedChunk struct {
	text     string
	hasTable bool
}

// isTableLine reports whether a line belongs to a pipe table: it starts
// with | and has at least one more | after the first character.
func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '|' {
		return false
	}
	return strings.Contains(trimmed[1:], "|")
}

// segmentMarkdown splits markdown into alternating text and table segments.
// Consecutive table lines form one table segment; everything between tables
// forms text segments.
func segmentMarkdown(markdown string) []segment {
	lines := strings.Split(markdown, "\n")

	var segments []segment
	var current []string
	inTable := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			segments = append(segments, segment{text: text, isTable: inTable})
		}
		current = nil
	}

	for _, line := range lines {
		table := isTableLine(line)
		if table != inTable {
			flush()
			inTable = table
		}
		current = append(current, line)
	}
	flush()

	return segments
}

// packSegments packs segments into chunks of at most chunkSize characters.
// Table segments are never split or merged; they become their own chunk even
// when oversized. Adjacent text chunks share an overlap tail so context
// survives the boundary.
func packSegments(segments []segment, chunkSize, chunkOverlap int) []packedChunk {
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	var chunks []packedChunk
	var buf strings.Builder

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			chunks = append(chunks, packedChunk{text: text})
		}
		buf.Reset()
	}

	// Pieces are capped below chunkSize so a flushed overlap tail plus the
	// next piece still fits.
	maxPiece := chunkSize - chunkOverlap

	for _, seg := range segments {
		if seg.isTable {
			flush()
			chunks = append(chunks, packedChunk{text: seg.text, hasTable: true})
			continue
		}

		for _, piece := range splitOversize(seg.text, maxPiece) {
			sep := 0
			if buf.Len() > 0 {
				sep = 2
			}
			if buf.Len()+sep+len(piece) > chunkSize {
				tail := overlapTail(buf.String(), chunkOverlap)
				flush()
				if tail != "" {
					buf.WriteString(tail)
				}
			}
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(piece)
		}
	}
	flush()

	return chunks
}

// splitOversize breaks a text segment into pieces of at most maxLen
// characters, preferring paragraph boundaries and falling back to hard
// splits at word boundaries.
func splitOversize(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var pieces []string
	var buf strings.Builder

	flush := func() {
		p := strings.TrimSpace(buf.String())
		if p != "" {
			pieces = append(pieces, p)
		}
		buf.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxLen {
			flush()
			pieces = append(pieces, hardSplit(para, maxLen)...)
			continue
		}

		sep := 0
		if buf.Len() > 0 {
			sep = 2
		}
		if buf.Len()+sep+len(para) > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()

	return pieces
}

// hardSplit cuts text into maxLen slices, backing up to the last space when
// one is near so words stay whole.
func hardSplit(text string, maxLen int) []string {
	var pieces []string

	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(text[:maxLen], " "); idx > maxLen/2 {
			cut = idx
		}
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}

	return pieces
}

// overlapTail returns the last overlap characters of text cut at a word
// boundary. Texts shorter than the overlap return nothing, otherwise the
// next chunk would wholly contain this one.
func overlapTail(text string, overlap int) string {
	text = strings.TrimSpace(text)
	if overlap <= 0 || len(text) <= overlap {
		return ""
	}

	tail := text[len(text)-overlap:]
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
