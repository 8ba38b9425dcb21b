package config

import (
	"fmt"
	"os"
	"regexp"
)

// SaveCapturedIDs writes freshly captured session ids back into the JSONC
// config file. Values are replaced in place so comments and formatting
// survive, then the in-memory state is reloaded.
func (m *Manager) SaveCapturedIDs(sessionID, messageID, mode, battleTarget string) error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	replacements := map[string]string{
		"sessionId": sessionID,
		"messageId": messageID,
	}
	if mode != "" {
		replacements["id_updater_last_mode"] = mode
	}
	if battleTarget != "" {
		replacements["id_updater_battle_target"] = battleTarget
	}

	for key, value := range replacements {
		data, err = setStringValue(data, key, value)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return m.Reload()
}

// setStringValue rewrites `"key": "..."` in place. The key must already be
// present; introducing new keys would fight the file's comment layout.
func setStringValue(data []byte, key, value string) ([]byte, error) {
	re, err := regexp.Compile(`("` + regexp.QuoteMeta(key) + `"\s*:\s*)"(?:\\.|[^"\\])*"`)
	if err != nil {
		return nil, err
	}
	if !re.Match(data) {
		return nil, fmt.Errorf("config key %q not found", key)
	}
	quoted := fmt.Sprintf("%q", value)
	return re.ReplaceAllFunc(data, func(match []byte) []byte {
		prefix := re.FindSubmatch(match)[1]
		return append(append([]byte{}, prefix...), quoted...)
	}), nil
}
