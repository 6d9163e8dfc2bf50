package store

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/roach88/chartsync/internal/value"
)

// marshalValue converts a model value to canonical JSON TEXT.
func marshalValue(v any) (string, error) {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses JSON TEXT back into a model value.
func unmarshalValue(data string) (any, error) {
	var v any
	if err := sonic.UnmarshalString(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func marshalNames(names []string) (string, error) {
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return marshalValue(list)
}

func unmarshalNames(data string) ([]string, error) {
	var names []string
	if err := sonic.UnmarshalString(data, &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
