package languages

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// LanguageInfo contains information about a supported language
type LanguageInfo struct {
	Name       string
	Language   *sitter.Language
	Extensions []string
}

// GetAllLanguages returns all supported language parsers. PHP is the only
// language this engine performs taint analysis over (§1, §4.3); every
// other language the spec names (Solidity, JavaScript, browser extension
// manifests) is matched by regex/keyword rules alone and never reaches a
// Parser.
func GetAllLanguages() []LanguageInfo {
	return []LanguageInfo{
		{
			Name:       "php",
			Language:   php.GetLanguage(),
			Extensions: []string{".php", ".php5", ".php7", ".phtml"},
		},
	}
}

// ParserRegistrar registers a language parser with a parser service.
type ParserRegistrar interface {
	RegisterLanguage(name string, lang *sitter.Language)
}

// RegisterAllLanguages registers all supported languages with the given registrar.
func RegisterAllLanguages(registrar ParserRegistrar) {
	for _, lang := range GetAllLanguages() {
		registrar.RegisterLanguage(lang.Name, lang.Language)
	}
}
