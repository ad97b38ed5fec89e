package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CorrelationMap выученные корреляции: датчик -> список коррелирующих датчиков
type CorrelationMap map[string][]string

// PatternPair тройка (паттерн датчика, другой датчик, паттерн другого датчика),
// наблюдавшаяся при нормальной работе системы
type PatternPair struct {
	Pattern      int
	Sensor       string
	OtherPattern int
}

// PatternPairMap выученные нормальные пары паттернов по датчикам
type PatternPairMap map[string][]PatternPair

// Contains проверяет, встречалась ли тройка для датчика
func (m PatternPairMap) Contains(sensor string, pair PatternPair) bool {
	for _, p := range m[sensor] {
		if p == pair {
			return true
		}
	}
	return false
}

// MarshalYAML пишет тройку как [p, sensor, q]
func (p PatternPair) MarshalYAML() (interface{}, error) {
	return &yaml.Node{
		Kind:  yaml.SequenceNode,
		Style: yaml.FlowStyle,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(p.Pattern)},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Sensor},
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(p.OtherPattern)},
		},
	}, nil
}

// UnmarshalYAML читает тройку [p, sensor, q]
func (p *PatternPair) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 3 {
		return fmt.Errorf("pattern pair must be a sequence of 3 elements at line %d", value.Line)
	}
	if err := value.Content[0].Decode(&p.Pattern); err != nil {
		return fmt.Errorf("pattern pair index: %w", err)
	}
	if err := value.Content[1].Decode(&p.Sensor); err != nil {
		return fmt.Errorf("pattern pair sensor: %w", err)
	}
	if err := value.Content[2].Decode(&p.OtherPattern); err != nil {
		return fmt.Errorf("pattern pair other index: %w", err)
	}
	return nil
}

// MarshalJSON пишет тройку как [p, "sensor", q]
func (p PatternPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Pattern, p.Sensor, p.OtherPattern})
}

// UnmarshalJSON читает тройку [p, "sensor", q]
func (p *PatternPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("pattern pair must have 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Pattern); err != nil {
		return fmt.Errorf("pattern pair index: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Sensor); err != nil {
		return fmt.Errorf("pattern pair sensor: %w", err)
	}
	if err := json.Unmarshal(raw[2], &p.OtherPattern); err != nil {
		return fmt.Errorf("pattern pair other index: %w", err)
	}
	return nil
}
