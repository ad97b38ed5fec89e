package structure

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"sensor-fdd/internal/models"
)

// Kind тип компонента структурной модели
type Kind string

const (
	KindSensor    Kind = "sensor"
	KindSubsystem Kind = "subsystem"
)

// ComponentSpec описание компонента в документе модели
type ComponentSpec struct {
	Name    string   `yaml:"name"`
	Type    Kind     `yaml:"type"`
	Parents []string `yaml:"parents"`
}

// Description документ структурной модели
type Description struct {
	Components []ComponentSpec `yaml:"components"`
}

type component struct {
	name    string
	kind    Kind
	parents []string
}

// Model ориентированный граф зависимостей компонентов системы.
// Ребро (P, C) означает, что C зависит от P. Неизменяем после загрузки.
type Model struct {
	components map[string]*component
	order      []string
	sensors    []string
}

// LoadFile загружает модель из YAML файла
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open structural model: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load разбирает YAML документ модели
func Load(r io.Reader) (*Model, error) {
	var desc Description
	if err := yaml.NewDecoder(r).Decode(&desc); err != nil {
		return nil, &models.ConfigurationError{Message: fmt.Sprintf("malformed structural model: %v", err)}
	}
	return New(desc)
}

// New строит модель из описания. Родители могут ссылаться на компоненты,
// объявленные ниже по документу.
func New(desc Description) (*Model, error) {
	m := &Model{
		components: make(map[string]*component, len(desc.Components)),
	}

	for i, spec := range desc.Components {
		if spec.Name == "" {
			return nil, &models.ConfigurationError{Message: fmt.Sprintf("component #%d has no name", i)}
		}
		if _, exists := m.components[spec.Name]; exists {
			return nil, &models.ConfigurationError{Component: spec.Name, Message: "duplicate component name"}
		}
		switch spec.Type {
		case KindSensor, KindSubsystem:
		case "":
			return nil, &models.ConfigurationError{Component: spec.Name, Message: "missing type"}
		default:
			return nil, &models.ConfigurationError{Component: spec.Name, Message: fmt.Sprintf("unknown type %q", spec.Type)}
		}

		m.components[spec.Name] = &component{
			name:    spec.Name,
			kind:    spec.Type,
			parents: append([]string(nil), spec.Parents...),
		}
		m.order = append(m.order, spec.Name)
		if spec.Type == KindSensor {
			m.sensors = append(m.sensors, spec.Name)
		}
	}

	for _, name := range m.order {
		for _, parent := range m.components[name].parents {
			if _, ok := m.components[parent]; !ok {
				return nil, &models.ConfigurationError{Component: name, Message: fmt.Sprintf("unknown parent %q", parent)}
			}
		}
	}

	return m, nil
}

// Sensors возвращает имена датчиков в порядке документа
func (m *Model) Sensors() []string {
	return append([]string(nil), m.sensors...)
}

// Components возвращает имена всех компонентов в порядке документа
func (m *Model) Components() []string {
	return append([]string(nil), m.order...)
}

// Kind возвращает тип компонента
func (m *Model) Kind(name string) (Kind, error) {
	c, ok := m.components[name]
	if !ok {
		return "", unknownComponent(name)
	}
	return c.kind, nil
}

// Parents возвращает прямых родителей компонента
func (m *Model) Parents(name string) ([]string, error) {
	c, ok := m.components[name]
	if !ok {
		return nil, unknownComponent(name)
	}
	return append([]string(nil), c.parents...), nil
}

// Ancestors возвращает все компоненты, достижимые из name против направления зависимостей.
// Сам компонент входит в результат только при наличии цикла через него.
func (m *Model) Ancestors(name string) (map[string]struct{}, error) {
	c, ok := m.components[name]
	if !ok {
		return nil, unknownComponent(name)
	}

	visited := make(map[string]struct{})
	queue := append([]string(nil), c.parents...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		queue = append(queue, m.components[next].parents...)
	}
	return visited, nil
}

// IndependentSensors возвращает датчики из list, не имеющие общих предков с sensor
func (m *Model) IndependentSensors(sensor string, list []string) ([]string, error) {
	own, err := m.Ancestors(sensor)
	if err != nil {
		return nil, err
	}

	var independent []string
	for _, other := range list {
		ancestors, err := m.Ancestors(other)
		if err != nil {
			return nil, err
		}
		if !intersects(own, ancestors) {
			independent = append(independent, other)
		}
	}
	return independent, nil
}

func intersects(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func unknownComponent(name string) error {
	return &models.ConfigurationError{Component: name, Message: "unknown component"}
}
