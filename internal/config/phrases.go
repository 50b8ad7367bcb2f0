package config

import (
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PhraseLists carries the two indicator lists the fallback classifier scans
// generated answers for. The strict list forces the canned fallback message;
// the broad list only flags the interaction for review. Overlap between the
// two is permitted (and present in the shipped defaults) but redundant: a
// strict match short-circuits before the broad list is consulted.
type PhraseLists struct {
	Fallback     []string `koanf:"fallback"`
	FallbackLike []string `koanf:"fallbackLike"`
}

// LoadPhrases reads a phrase-list document, picking the parser from the file
// extension the same way rule documents are sourced elsewhere.
func LoadPhrases(path string) (PhraseLists, error) {
	parser, err := phraseParser(path)
	if err != nil {
		return PhraseLists{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return PhraseLists{}, fmt.Errorf("config: load phrases %s: %w", path, err)
	}
	var lists PhraseLists
	if err := k.Unmarshal("", &lists); err != nil {
		return PhraseLists{}, fmt.Errorf("config: unmarshal phrases %s: %w", path, err)
	}
	lists.Fallback = trimPhrases(lists.Fallback)
	lists.FallbackLike = trimPhrases(lists.FallbackLike)
	if len(lists.Fallback) == 0 && len(lists.FallbackLike) == 0 {
		return PhraseLists{}, fmt.Errorf("config: phrases %s contains no phrases", path)
	}
	return lists, nil
}

func phraseParser(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: phrases %s: unsupported extension", path)
	}
}

func trimPhrases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, phrase := range in {
		// Only leading/trailing whitespace is dropped; the phrases themselves
		// are matched verbatim, case-sensitive.
		if trimmed := strings.TrimSpace(phrase); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
