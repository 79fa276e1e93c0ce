package classifier

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var codeBlockPattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n```")

// ExtractJSON достаёт JSON-объект из ответа модели, в том числе из markdown-блока
func ExtractJSON(response string) (string, error) {
	for _, m := range codeBlockPattern.FindAllStringSubmatch(response, -1) {
		lang := strings.ToLower(m[1])
		content := strings.TrimSpace(m[2])
		if (lang == "" || lang == "json") && json.Valid([]byte(content)) {
			return content, nil
		}
	}

	start := strings.Index(response, "{")
	if start < 0 {
		return "", errors.New("no JSON object in response")
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(response); i++ {
		ch := response[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				candidate := response[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				return "", errors.New("malformed JSON object in response")
			}
		}
	}
	return "", errors.New("unterminated JSON object in response")
}
