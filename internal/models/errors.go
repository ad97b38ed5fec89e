package models

import "fmt"

// ConfigurationError ошибка в описании структурной модели или артефактах
type ConfigurationError struct {
	Component string
	Message   string
}

func (e *ConfigurationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error: component %q: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// InsufficientDataError окно короче необходимого минимума
type InsufficientDataError struct {
	Operation string
	Required  int
	Actual    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need at least %d samples, got %d",
		e.Operation, e.Required, e.Actual)
}

// DimensionMismatchError размеры матрицы не совпадают со списком датчиков или временными метками
type DimensionMismatchError struct {
	What     string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.What, e.Expected, e.Actual)
}
