// Package convert moves values between domain structs and the google.protobuf.Struct payloads
// carried by the gRPC surface. JSON field names are the wire names on both transports.
package convert

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct encodes v (a struct or map) into a protobuf Struct via its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return out, nil
}

// Wrap encodes v under a single key. Used for list payloads, which a Struct cannot hold at the top level.
func Wrap(key string, v any) (*structpb.Struct, error) {
	return ToStruct(map[string]any{key: v})
}

// FromStruct decodes s into dst. A nil Struct leaves dst untouched.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// Unwrap decodes the value stored under key into dst.
func Unwrap(s *structpb.Struct, key string, dst any) error {
	v, ok := s.GetFields()[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return fmt.Errorf("from value: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return nil
}
