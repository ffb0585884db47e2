// Package runtime also handles infrastructure-level loading of embedded
// resources, here the censored word dictionaries.
package runtime

import (
	"bufio"
	"bytes"
	"embed"
	"io/fs"
	"path"
	"strings"

	"hybridchat/errors"
)

//go:embed censored/*
var censoredFS embed.FS

// CensoredData carries the result of the loading process including metadata
// for logging.
type CensoredData struct {
	Words     []string
	Languages []string
}

// LoadCensoredWords scans the embedded censored/ directory, treating each
// .txt file as one language dictionary, and returns the deduplicated word
// list. Blank lines and '#' comments are skipped.
func LoadCensoredWords() (*CensoredData, error) {
	entries, err := fs.ReadDir(censoredFS, "censored")
	if err != nil {
		return nil, err
	}

	var languages []string
	uniqueWords := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		raw, err := censoredFS.ReadFile(path.Join("censored", entry.Name()))
		if err != nil {
			return nil, err
		}

		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			uniqueWords[strings.ToLower(word)] = struct{}{}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(uniqueWords) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(uniqueWords))
	for word := range uniqueWords {
		words = append(words, word)
	}
	return &CensoredData{Words: words, Languages: languages}, nil
}
