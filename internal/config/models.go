package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Model types.
const (
	ModelTypeText   = "text"
	ModelTypeImage  = "image"
	ModelTypeSearch = "search"
)

// ModelEntry is one servable model. ID is nil when the map value carries the
// literal "null" id, meaning the peer resolves the model itself.
type ModelEntry struct {
	ID   *string
	Type string
}

// UnmarshalJSON accepts the compact "id", "id:type" and "null:type" string
// forms used by the model map file.
func (e *ModelEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	id := s
	typ := ModelTypeText
	if i := strings.LastIndex(s, ":"); i >= 0 {
		switch suffix := s[i+1:]; suffix {
		case ModelTypeText, ModelTypeImage, ModelTypeSearch:
			id = s[:i]
			typ = suffix
		}
	}

	e.Type = typ
	if id == "" || id == "null" {
		e.ID = nil
	} else {
		e.ID = &id
	}
	return nil
}

// LoadModelMap reads the model map file: model name to "id:type" string.
func LoadModelMap(path string) (map[string]ModelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model map: %w", err)
	}
	out := make(map[string]ModelEntry)
	if err := json.Unmarshal(stripJSONComments(data), &out); err != nil {
		return nil, fmt.Errorf("parse model map: %w", err)
	}
	return out, nil
}

// EndpointMapping binds a model name to a captured session. Mode,
// BattleTarget and Type override the config and model-map defaults when
// set.
type EndpointMapping struct {
	SessionID    string `json:"sessionId"`
	MessageID    string `json:"messageId"`
	Mode         string `json:"mode,omitempty"`
	BattleTarget string `json:"battleTarget,omitempty"`
	Type         string `json:"type,omitempty"`
}

// EndpointBinding is the value of one endpoint map entry. A list form turns
// on round-robin selection; a single object is a static binding.
type EndpointBinding struct {
	Mappings []EndpointMapping
	List     bool
}

// UnmarshalJSON accepts either a single mapping object or a list of them.
func (b *EndpointBinding) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &b.Mappings); err != nil {
			return err
		}
		b.List = true
		return nil
	}
	var single EndpointMapping
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	b.Mappings = []EndpointMapping{single}
	b.List = false
	return nil
}

// LoadEndpointMap reads the model endpoint map file.
func LoadEndpointMap(path string) (map[string]EndpointBinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint map: %w", err)
	}
	out := make(map[string]EndpointBinding)
	if err := json.Unmarshal(stripJSONComments(data), &out); err != nil {
		return nil, fmt.Errorf("parse endpoint map: %w", err)
	}
	for name, b := range out {
		if b.List && len(b.Mappings) == 0 {
			return nil, fmt.Errorf("endpoint map entry %q is an empty list", name)
		}
	}
	return out, nil
}
