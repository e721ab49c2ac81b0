package mailer

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontmatterDelimiter = []byte("---")

// splitFrontmatter separates optional YAML frontmatter from the template
// body. Content not starting with "---" is all body with empty metadata.
func splitFrontmatter(content []byte) (map[string]any, string, error) {
	if !bytes.HasPrefix(content, frontmatterDelimiter) {
		return map[string]any{}, string(content), nil
	}

	rest := bytes.TrimPrefix(content, frontmatterDelimiter)
	rest = bytes.TrimLeft(rest, "\r\n")
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("%w: no content after opening delimiter", ErrInvalidFrontmatter)
	}

	end := bytes.Index(rest, frontmatterDelimiter)
	if end == -1 {
		return nil, "", fmt.Errorf("%w: closing delimiter not found", ErrInvalidFrontmatter)
	}

	raw := rest[:end]
	body := rest[end+len(frontmatterDelimiter):]
	// drop the single newline following the closing delimiter
	body = bytes.TrimPrefix(body, []byte("\r\n"))
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	}

	metadata := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &metadata); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
		}
	}
	return metadata, string(body), nil
}
