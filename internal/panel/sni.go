package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoStreamSettings = errors.New("inbound has no stream settings")

// CurrentSNI returns the first reality serverName of the first inbound, or
// "" when none is configured.
func (s *Store) CurrentSNI(ctx context.Context) (string, error) {
	in, err := s.Inbound(ctx)
	if err != nil {
		return "", err
	}
	stream, err := in.ParseStreamSettings()
	if err != nil {
		return "", err
	}
	if len(stream.RealitySettings.ServerNames) == 0 {
		return "", nil
	}
	return stream.RealitySettings.ServerNames[0], nil
}

// SetSNI replaces realitySettings.serverNames of the first inbound with
// [name]. Every other stream-settings key is written back untouched.
func (s *Store) SetSNI(ctx context.Context, name string) error {
	in, err := s.Inbound(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.StreamSettings) == "" {
		return ErrNoStreamSettings
	}

	var stream map[string]json.RawMessage
	if err := json.Unmarshal([]byte(in.StreamSettings), &stream); err != nil {
		return fmt.Errorf("inbound %d stream settings: %w", in.ID, err)
	}

	reality := map[string]json.RawMessage{}
	if r, ok := stream["realitySettings"]; ok && !bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
		if err := json.Unmarshal(r, &reality); err != nil {
			return fmt.Errorf("inbound %d reality settings: %w", in.ID, err)
		}
	}

	names, err := encodeJSON([]string{name})
	if err != nil {
		return err
	}
	reality["serverNames"] = names
	if stream["realitySettings"], err = encodeJSON(reality); err != nil {
		return err
	}
	raw, err := encodeJSON(stream)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Model(&Inbound{}).
		Where("id = ?", in.ID).
		Update("stream_settings", string(raw)).Error
	if err != nil {
		return fmt.Errorf("failed to update stream settings: %w", err)
	}
	return nil
}

// encodeJSON marshals v without HTML escaping, leaving raw values as the
// panel wrote them.
func encodeJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode stream settings: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
