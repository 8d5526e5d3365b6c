package text

import "regexp"

var (
	mentionRe = regexp.MustCompile(`(?:^|[^\w@])@(\w+)`)
	soundRe   = regexp.MustCompile(`(?m)^/play\s+(\w+)`)
)

// Parser extracts @mentions and /play sound commands from raw message text.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Mentions returns the unique mentioned usernames in order of first
// appearance.
func (p *Parser) Mentions(content string) []string {
	return uniqueMatches(mentionRe.FindAllStringSubmatch(content, -1))
}

// SoundCommands returns the unique sound names invoked with /play, in order
// of first appearance. Only commands at the start of a line count.
func (p *Parser) SoundCommands(content string) []string {
	return uniqueMatches(soundRe.FindAllStringSubmatch(content, -1))
}

// uniqueMatches collects the first capture group of each match, deduplicated.
func uniqueMatches(matches [][]string) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	result := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	return result
}
