package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 模型前缀到 tiktoken 编码的映射，按前缀长度从长到短匹配
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{prefix: "gpt-4o-mini", encoding: "o200k_base"},
	{prefix: "gpt-4o", encoding: "o200k_base"},
	{prefix: "gpt-4", encoding: "cl100k_base"},
	{prefix: "gpt-3.5", encoding: "cl100k_base"},
	{prefix: "text-embedding-3", encoding: "cl100k_base"},
}

func encodingFor(model string) (string, bool) {
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			return m.encoding, true
		}
	}
	return "", false
}

// 编码表在首次使用时加载（可能需要下载 BPE 文件），按编码名缓存
var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encodingCache[name] = enc
	return enc, nil
}

type tiktokenCounter struct {
	encoding string
	fallback Estimator
}

func newTiktokenCounter(encoding string) *tiktokenCounter {
	return &tiktokenCounter{encoding: encoding}
}

func (c *tiktokenCounter) Name() string { return "tiktoken:" + c.encoding }

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	enc, err := loadEncoding(c.encoding)
	if err != nil {
		return c.fallback.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}
