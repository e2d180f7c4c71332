package session

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec converts session payloads to and from the bytes kept by a Store.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec is the default codec.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return b, nil
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return v, nil
}

// GobCodec encodes with encoding/gob. Interface-typed fields must have
// their concrete types registered with gob.Register.
type GobCodec[T any] struct{}

func (GobCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func (GobCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return v, nil
}
