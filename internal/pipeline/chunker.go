package pipeline

import (
	"strings"
	"unicode"

	"pdf-tutor-go/internal/model"
)

// Chunker 把页文本切成不超过 Size 个字符的片段，尽量在句末断开。
type Chunker struct {
	Size      int
	MinLength int
}

// Split 依次切分每一页，ChunkIndex 在整份文档内从 0 递增，Page 从 1 开始。
// 同样的输入与参数总是得到同样的输出。
func (c Chunker) Split(pages []string) []model.Chunk {
	var chunks []model.Chunk
	next := 0
	for i, text := range pages {
		for _, seg := range c.splitPage(text) {
			chunks = append(chunks, model.Chunk{Text: seg, Page: i + 1, ChunkIndex: next})
			next++
		}
	}
	return chunks
}

func (c Chunker) splitPage(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || c.Size <= 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(runes); {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastSentenceEnd(runes, start, end); cut > start {
			end = cut
		}
		seg := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(seg)) >= c.MinLength {
			out = append(out, seg)
		}
		start = end
	}
	return out
}

// lastSentenceEnd 在 runes[start:end) 内从右向左查找句末标点，返回标点之后的位置；找不到返回 -1。
// 英文句号等需要后接空白才算句末，以免把 3.14 或 e.g. 这类写法当成句子结束。
func lastSentenceEnd(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		switch runes[i] {
		case '。', '！', '？':
			return i + 1
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}
