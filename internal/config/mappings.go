package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maneesh/koko2vichan/internal/errors"
)

const mappingsKey = "kokoToVichanBoardMappings"

// objectMappings re-reads the object form of the board mappings from the
// config file itself. viper lower-cases map keys and drops their order, and
// koko board names are case sensitive database and checkpoint keys.
// A nil result means the file format has no ordered reader here.
func objectMappings(path string) ([]BoardMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInvalidConfig(fmt.Sprintf("failed to read config file %s: %v", path, err))
	}

	var out []BoardMapping
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		out, err = jsonObjectMappings(data)
	case ".yaml", ".yml":
		out, err = yamlObjectMappings(data)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInvalidConfig(fmt.Sprintf("failed to read %s from %s: %v", mappingsKey, path, err))
	}
	return out, nil
}

func jsonObjectMappings(data []byte) ([]BoardMapping, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	for key, raw := range top {
		if !strings.EqualFold(key, mappingsKey) {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("%s is not an object", mappingsKey)
		}

		out := []BoardMapping{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			koko, _ := tok.(string)

			var vichan any
			if err := dec.Decode(&vichan); err != nil {
				return nil, err
			}
			out = append(out, BoardMapping{Koko: koko, Vichan: stringValue(vichan)})
		}
		return out, nil
	}
	return nil, nil
}

func yamlObjectMappings(data []byte) ([]BoardMapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}

	top := doc.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if !strings.EqualFold(top.Content[i].Value, mappingsKey) {
			continue
		}

		node := top.Content[i+1]
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s is not an object", mappingsKey)
		}
		out := make([]BoardMapping, 0, len(node.Content)/2)
		for j := 0; j+1 < len(node.Content); j += 2 {
			out = append(out, BoardMapping{Koko: node.Content[j].Value, Vichan: node.Content[j+1].Value})
		}
		return out, nil
	}
	return nil, nil
}
