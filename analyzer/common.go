package analyzer

import "strings"

// lines splits content into 1-based-indexable lines (index 0 unused).
func lines(content string) []string {
	return strings.Split(content, "\n")
}

// commentPrefixes maps a file extension to the single-line comment tokens
// recognized for that language. Detectors use this to skip comment-only
// lines, per spec §4.8's requirement.
var commentPrefixes = map[string][]string{
	".go":   {"//"},
	".js":   {"//"},
	".jsx":  {"//"},
	".ts":   {"//"},
	".tsx":  {"//"},
	".java": {"//"},
	".c":    {"//"},
	".cpp":  {"//"},
	".cs":   {"//"},
	".rs":   {"//"},
	".py":   {"#"},
	".rb":   {"#"},
	".sh":   {"#"},
	".yaml": {"#"},
	".yml":  {"#"},
	".env":  {"#"},
	".sql":  {"--"},
	".lua":  {"--"},
}

// isCommentOnlyLine reports whether line, once trimmed, begins with a
// comment token recognized for filePath's extension. Unknown extensions
// fall back to the common "//" and "#" tokens so the check degrades
// gracefully instead of scanning nothing.
func isCommentOnlyLine(line, filePath string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	tokens := commentPrefixes[extOf(filePath)]
	if len(tokens) == 0 {
		tokens = []string{"//", "#"}
	}
	for _, tok := range tokens {
		if strings.HasPrefix(trimmed, tok) {
			return true
		}
	}
	return false
}

func extOf(filePath string) string {
	idx := strings.LastIndexByte(filePath, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filePath[idx:])
}

func baseName(filePath string) string {
	idx := strings.LastIndexAny(filePath, "/\\")
	if idx < 0 {
		return filePath
	}
	return filePath[idx+1:]
}
