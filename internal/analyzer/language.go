package analyzer

import (
	"path/filepath"
	"strings"
)

// LanguageText is the tag for files whose extension is not in the table.
// Such files are still analyzed.
const LanguageText = "text"

var languages = map[string]string{
	".js":     "javascript",
	".jsx":    "javascript",
	".mjs":    "javascript",
	".cjs":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".vue":    "vue",
	".svelte": "svelte",
	".py":     "python",
	".go":     "go",
	".rb":     "ruby",
	".java":   "java",
	".kt":     "kotlin",
	".swift":  "swift",
	".rs":     "rust",
	".c":      "c",
	".h":      "c",
	".cc":     "cpp",
	".cpp":    "cpp",
	".hpp":    "cpp",
	".cs":     "csharp",
	".php":    "php",
	".sh":     "shell",
	".bash":   "shell",
	".css":    "css",
	".scss":   "scss",
	".html":   "html",
	".htm":    "html",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".sql":    "sql",
	".md":     "markdown",
}

// LanguageFor returns the language tag for filename based on its extension.
func LanguageFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	switch strings.ToLower(filepath.Base(filename)) {
	case "dockerfile":
		return "dockerfile"
	case "makefile":
		return "makefile"
	}
	return LanguageText
}
