package bridge

import (
	"fmt"
	"strings"
)

// MessagesScriptSource produces scripts targeting the desktop Messages
// application. It covers the common case; deployments with stricter
// escaping or alternate services supply their own ScriptSource.
type MessagesScriptSource struct{}

func (MessagesScriptSource) TextScript(targetKey, text string) (string, error) {
	if targetKey == "" {
		return "", fmt.Errorf("bridge: empty target key")
	}
	return fmt.Sprintf(
		`tell application "Messages" to send "%s" to participant "%s" of account 1`,
		escapeScriptString(text), escapeScriptString(targetKey),
	), nil
}

func (MessagesScriptSource) AttachmentScript(targetKey, path string) (string, error) {
	if targetKey == "" {
		return "", fmt.Errorf("bridge: empty target key")
	}
	if path == "" {
		return "", fmt.Errorf("bridge: empty attachment path")
	}
	return fmt.Sprintf(
		`tell application "Messages" to send (POSIX file "%s") to participant "%s" of account 1`,
		escapeScriptString(path), escapeScriptString(targetKey),
	), nil
}

func escapeScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
