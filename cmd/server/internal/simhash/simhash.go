package simhash

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
)

// DefaultMaxDistance 默认相似阈值：汉明距离<=3视为近似重复的转写片段
const DefaultMaxDistance = 3

// SegmentFeatureSet 实现 simhash.FeatureSet 接口，用于转写片段文本的特征提取
type SegmentFeatureSet struct {
	text string
}

// GetFeatures 提取文本特征
// 空格分隔的语言使用单词及单词 bigram；无空格文本（中文、日文）使用字符 bigram
func (s SegmentFeatureSet) GetFeatures() []simhash.Feature {
	words := strings.FieldsFunc(s.text, func(r rune) bool {
		return unicode.IsSpace(r) || isPunctuation(r)
	})
	if len(words) == 0 {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0, 2*len(words))
	if len(words) == 1 {
		// 单个"词"通常是 CJK 连续文本，退化为字符 bigram
		runes := []rune(words[0])
		if len(runes) < 2 {
			return append(features, simhash.NewFeature([]byte(words[0])))
		}
		for i := 0; i < len(runes)-1; i++ {
			features = append(features, simhash.NewFeature([]byte(string(runes[i:i+2]))))
		}
		return features
	}

	for i, w := range words {
		features = append(features, simhash.NewFeature([]byte(w)))
		if i > 0 {
			features = append(features, simhash.NewFeature([]byte(words[i-1]+" "+w)))
		}
	}
	return features
}

// isPunctuation 判断是否为标点符号（含全角）
func isPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// Fingerprint 计算文本的 SimHash 指纹
// 参数:
//   - text: 已归一化的片段文本
//
// 返回:
//   - uint64: 64位SimHash指纹值
func Fingerprint(text string) uint64 {
	return simhash.NewSimhash().GetSimhash(SegmentFeatureSet{text: text})
}

// HammingDistance 计算两个 SimHash 指纹的汉明距离（0-64）
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// IsSimilar 判断两个文本是否近似
// maxDistance <= 0 时使用 DefaultMaxDistance
func IsSimilar(text1, text2 string, maxDistance int) bool {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	if strings.TrimSpace(text1) == "" || strings.TrimSpace(text2) == "" {
		return false
	}
	return HammingDistance(Fingerprint(text1), Fingerprint(text2)) <= maxDistance
}
