package similarity

import "math"

// corpusSize is the number of documents compared by BuildVectors.
const corpusSize = 2

// BuildVectors returns TF-IDF weighted vectors for docA and docB over their
// shared vocabulary. Vocabulary positions follow first-seen order across the
// tokens of docA, then docB. Both vectors have the same length.
func BuildVectors(docA, docB string) ([]float64, []float64) {
	tokensA := Normalize(docA)
	tokensB := Normalize(docB)

	vocab := vocabulary(tokensA, tokensB)
	tfA := termFrequencies(tokensA)
	tfB := termFrequencies(tokensB)
	presentA := membership(tokensA)
	presentB := membership(tokensB)

	vecA := make([]float64, len(vocab))
	vecB := make([]float64, len(vocab))
	for i, token := range vocab {
		docCount := 0
		if presentA[token] {
			docCount++
		}
		if presentB[token] {
			docCount++
		}
		idf := math.Log(float64(corpusSize)/float64(1+docCount)) + 1

		if tf, ok := tfA[token]; ok {
			vecA[i] = tf * idf
		}
		if tf, ok := tfB[token]; ok {
			vecB[i] = tf * idf
		}
	}

	return vecA, vecB
}

func vocabulary(docs ...[]string) []string {
	seen := make(map[string]struct{})
	vocab := make([]string, 0)
	for _, doc := range docs {
		for _, token := range doc {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			vocab = append(vocab, token)
		}
	}
	return vocab
}

// termFrequencies returns count/len per token. An empty document has no
// entries, which callers read as zero frequency.
func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return tf
	}

	for _, token := range tokens {
		tf[token]++
	}
	length := float64(len(tokens))
	for token, count := range tf {
		tf[token] = count / length
	}
	return tf
}

func membership(tokens []string) map[string]bool {
	present := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		present[token] = true
	}
	return present
}
