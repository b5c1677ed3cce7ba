package annot

import (
	"fmt"
	"regexp"
	"strings"

	"fortio.org/safecast"
)

type block struct {
	name  string
	start uint32
	end   uint32
}

var (
	transparentHeader = regexp.MustCompile(`^(?:inline\s+)?namespace\b|^extern\s*"C(?:\+\+)?"$`)
	typeHeader        = regexp.MustCompile(`^(?:template\s*<.*>\s*)?(?:struct|class|union|enum(?:\s+class)?)\s+(?:\[\[[^\]]*\]\]\s*)?([A-Za-z_]\w*)`)
	callHeader        = regexp.MustCompile(`([A-Za-z_~][\w:~]*)\s*\(`)
)

var notFunctionNames = map[string]bool{
	"decltype": true, "alignas": true, "__attribute__": true, "__declspec": true,
	"noexcept": true, "requires": true, "sizeof": true, "alignof": true,
	"static_assert": true, "if": true, "for": true, "while": true, "switch": true,
}

type scanFrame struct {
	transparent bool
	named       bool
	name        string
	start       uint32
}

// scanBlocks finds top-level brace blocks of C-family source. Comments,
// string and character literals and preprocessor lines are skipped;
// namespace and extern "C" braces do not count as a level.
func scanBlocks(lines []string) ([]block, error) {
	var (
		blocks         []block
		stack          []scanFrame
		header         strings.Builder
		inBlockComment bool
	)
	topLevel := func() bool {
		for _, f := range stack {
			if !f.transparent {
				return false
			}
		}
		return true
	}

	continuation := false
	for i, line := range lines {
		lineNum, err := safecast.Conv[uint32](i + 1)
		if err != nil {
			return nil, fmt.Errorf("line number overflow: %w", err)
		}
		if continuation || (!inBlockComment && strings.HasPrefix(strings.TrimSpace(line), "#")) {
			continuation = strings.HasSuffix(line, "\\")
			continue
		}

		var quote byte
		for pos := 0; pos < len(line); pos++ {
			c := line[pos]
			switch {
			case inBlockComment:
				if c == '*' && pos+1 < len(line) && line[pos+1] == '/' {
					inBlockComment = false
					pos++
				}
				continue
			case quote != 0:
				if c == '\\' {
					pos++
				} else if c == quote {
					quote = 0
				}
				continue
			}

			switch c {
			case '/':
				if pos+1 < len(line) && line[pos+1] == '/' {
					pos = len(line)
					continue
				}
				if pos+1 < len(line) && line[pos+1] == '*' {
					inBlockComment = true
					pos++
					continue
				}
			case '"', '\'':
				quote = c
				continue
			case '{':
				if topLevel() {
					h := strings.Join(strings.Fields(header.String()), " ")
					header.Reset()
					if transparentHeader.MatchString(h) {
						stack = append(stack, scanFrame{transparent: true})
						continue
					}
					stack = append(stack, scanFrame{named: true, name: blockName(h, lineNum), start: lineNum})
					continue
				}
				stack = append(stack, scanFrame{})
				continue
			case '}':
				if len(stack) == 0 {
					header.Reset()
					continue
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.named {
					blocks = append(blocks, block{name: top.name, start: top.start, end: lineNum})
				}
				if topLevel() {
					header.Reset()
				}
				continue
			case ';':
				if topLevel() {
					header.Reset()
					continue
				}
			}
			if topLevel() {
				header.WriteByte(c)
			}
		}
		if topLevel() {
			header.WriteByte(' ')
		}
	}
	return blocks, nil
}

// blockName picks the identifier a top-level block is known by.
func blockName(header string, line uint32) string {
	if m := typeHeader.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	for _, m := range callHeader.FindAllStringSubmatch(header, -1) {
		name := m[1]
		if notFunctionNames[name] {
			continue
		}
		name = strings.ReplaceAll(name, "::", "_")
		name = strings.ReplaceAll(name, "~", "dtor_")
		return name
	}
	return fmt.Sprintf("block_L%d", line)
}
