package convert

import (
	"fmt"
	"regexp"
	"strings"
)

// Jira wiki markup → Markdown. The rules run in a fixed order: fenced
// blocks first so inline rules never fire inside code.
var (
	codeBlockRe  = regexp.MustCompile(`(?s)\{code:?([^}]*)\}(.*?)\{code\}`)
	noformatRe   = regexp.MustCompile(`(?s)\{noformat\}(.*?)\{noformat\}`)
	quoteBlockRe = regexp.MustCompile(`(?s)\{quote\}(.*?)\{quote\}`)
	headingRe    = regexp.MustCompile(`(?m)^h([1-6])\. (.+)$`)
	boldRe       = regexp.MustCompile(`\*(\S[^*\n]*?)\*`)
	italicRe     = regexp.MustCompile(`_(\S[^_\n]*?)_`)
	strikeRe     = regexp.MustCompile(`(^|\s)-(\S[^-\n]*?)-`)
	monospaceRe  = regexp.MustCompile(`\{\{(.*?)\}\}`)
	underlineRe  = regexp.MustCompile(`\+(\S[^+\n]*?)\+`)
	linkRe       = regexp.MustCompile(`\[([^|\]]+)\|([^\]]+)\]`)
	bulletRe     = regexp.MustCompile(`(?m)^- `)
	embedRe      = regexp.MustCompile(`!([^!\s|]+)(\|[^!\n]*)?!`)
	fenceRe      = regexp.MustCompile("(?s)```.*?```")
)

// WikiToMarkdown converts Jira wiki markup to Markdown. attachments maps
// attachment filenames to their content URLs; embeds of known attachments
// become image references against those URLs so the localizer can fetch
// them later. Unknown embeds keep their target verbatim.
func WikiToMarkdown(text string, attachments map[string]string) string {
	if text == "" {
		return ""
	}

	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := codeBlockRe.FindStringSubmatch(m)
		lang := strings.TrimSpace(sub[1])
		return fmt.Sprintf("```%s\n%s\n```", lang, strings.Trim(sub[2], "\n"))
	})

	text = noformatRe.ReplaceAllString(text, "```\n$1\n```")

	text = quoteBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := quoteBlockRe.FindStringSubmatch(m)
		lines := strings.Split(strings.TrimSpace(sub[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n")
	})

	text = headingRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		level := int(sub[1][0] - '0')
		return strings.Repeat("#", level) + " " + sub[2]
	})

	// Stash the fenced blocks produced above so no inline rule can touch
	// their contents, then restore them at the end.
	var fences []string
	text = fenceRe.ReplaceAllStringFunc(text, func(m string) string {
		fences = append(fences, m)
		return fmt.Sprintf("\x00fence:%d\x00", len(fences)-1)
	})

	text = convertEmbeds(text, attachments)

	text = boldRe.ReplaceAllString(text, "**$1**")
	text = italicRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "$1~~$2~~")
	text = monospaceRe.ReplaceAllString(text, "`$1`")
	text = underlineRe.ReplaceAllString(text, "*$1*")
	text = linkRe.ReplaceAllString(text, "[$1]($2)")
	text = bulletRe.ReplaceAllString(text, "* ")

	for i, fence := range fences {
		text = strings.Replace(text, fmt.Sprintf("\x00fence:%d\x00", i), fence, 1)
	}

	return text
}

// convertEmbeds turns !name.png! / !name.png|thumbnail! into Markdown image
// references. Only targets that look like images (URL or known attachment
// or image extension) are converted; everything else is left alone so bare
// exclamation marks in prose survive.
func convertEmbeds(text string, attachments map[string]string) string {
	return embedRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := embedRe.FindStringSubmatch(m)
		target := sub[1]

		if url, ok := attachments[target]; ok {
			return fmt.Sprintf("![%s](%s)", target, url)
		}
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			name := target
			if i := strings.LastIndex(target, "/"); i >= 0 && i < len(target)-1 {
				name = target[i+1:]
			}
			return fmt.Sprintf("![%s](%s)", name, target)
		}
		if hasImageExt(target) {
			return fmt.Sprintf("![%s](%s)", target, target)
		}
		return m
	})
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".bmp", ".ico"}

func hasImageExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
