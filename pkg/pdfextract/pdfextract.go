// Package pdfextract 从 PDF 字节中按页提取纯文本。
package pdfextract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor 按页返回文本，下标 i 对应第 i+1 页。
type Extractor interface {
	ExtractPages(ctx context.Context, data []byte, fileName string) ([]string, error)
}

// Native 使用 ledongthuc/pdf 在进程内解析。
type Native struct{}

// ExtractPages 提取每一页的文本；无法解析的单页返回空字符串而不是中断整份文档。
func (Native) ExtractPages(ctx context.Context, data []byte, _ string) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// Fallback 先尝试 Primary，出错或没有任何文本时再尝试 Secondary。
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
}

func (f Fallback) ExtractPages(ctx context.Context, data []byte, fileName string) ([]string, error) {
	pages, err := f.Primary.ExtractPages(ctx, data, fileName)
	if err == nil && HasText(pages) {
		return pages, nil
	}
	if f.Secondary == nil {
		return pages, err
	}
	alt, altErr := f.Secondary.ExtractPages(ctx, data, fileName)
	if altErr != nil {
		if err != nil {
			return nil, fmt.Errorf("%v; fallback: %w", err, altErr)
		}
		// 主解析器成功但无文本，保留其结果
		return pages, nil
	}
	return alt, nil
}

// HasText 判断是否至少有一页包含非空白字符。
func HasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}
