package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	ngram "github.com/i5heu/ngram-corpus"
)

// featureSeparator splits the attributes of one word.
const featureSeparator = "|"

// readSequences parses one sequence per non-empty line. Words are separated
// by whitespace, the features of a word by "|".
func readSequences(r io.Reader, attributes uint64, weight float64, fn func(ngram.WeightedGram) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		g, err := parseLine(sc.Text(), attributes, weight)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(g) == 0 {
			continue
		}
		if err := fn(g); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func parseLine(line string, attributes uint64, weight float64) (ngram.WeightedGram, error) {
	words := strings.Fields(line)
	g := make(ngram.WeightedGram, 0, len(words))
	for _, w := range words {
		features := strings.Split(w, featureSeparator)
		if uint64(len(features)) != attributes {
			return nil, fmt.Errorf("word %q has %d features, want %d", w, len(features), attributes)
		}
		g = append(g, ngram.Word{Features: features, Weight: weight})
	}
	return g, nil
}
