package indexer

import (
	"path"
	"strings"
)

var extLanguages = map[string]string{
	"js":    "javascript",
	"jsx":   "javascript",
	"mjs":   "javascript",
	"cjs":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"py":    "python",
	"java":  "java",
	"kt":    "kotlin",
	"go":    "go",
	"cs":    "csharp",
	"rb":    "ruby",
	"php":   "php",
	"rs":    "rust",
	"c":     "c",
	"h":     "c",
	"cc":    "cpp",
	"cpp":   "cpp",
	"hpp":   "cpp",
	"swift": "swift",
	"scala": "scala",
	"sh":    "shell",
	"bash":  "shell",
	"sql":   "sql",
	"md":    "markdown",
	"yml":   "yaml",
	"yaml":  "yaml",
	"json":  "json",
	"toml":  "toml",
}

// DetectLanguage maps a file extension to a language tag. Unknown extensions
// fall back to the bare lowercase extension; no extension yields "text".
func DetectLanguage(relPath string) string {
	base := path.Base(relPath)
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		// dotfiles such as .gitignore have no extension
		return "text"
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(relPath)), ".")
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	if ext == "" {
		return "text"
	}
	return ext
}
