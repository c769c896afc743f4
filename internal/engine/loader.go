package engine

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrPipelineParse — файл pipeline не является корректным YAML.
var ErrPipelineParse = errors.New("pipeline parse failed")

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// Parse разбирает YAML в Pipeline и валидирует результат.
// Неизвестные поля считаются ошибкой.
func Parse(data []byte) (*domain.Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p domain.Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrPipelineParse)
		}
		return nil, fmt.Errorf("%w: %v", ErrPipelineParse, err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

// ParseFile читает и разбирает pipeline из файла.
func ParseFile(path string) (*domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// DefaultPipeline возвращает встроенный pipeline build-and-audit.
func DefaultPipeline() *domain.Pipeline {
	p, err := Parse(defaultPipelineYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded pipeline is invalid: %v", err))
	}
	return p
}

// DefaultPipelineYAML возвращает исходный YAML встроенного pipeline.
func DefaultPipelineYAML() []byte {
	return bytes.Clone(defaultPipelineYAML)
}

// Load загружает pipeline из файла; пустой путь означает встроенный pipeline.
func Load(path string) (*domain.Pipeline, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}
	return ParseFile(path)
}

// Marshal сериализует pipeline в YAML.
func Marshal(p *domain.Pipeline) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
