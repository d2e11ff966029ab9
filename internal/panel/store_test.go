package panel

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"), Options{ReadOnly: true})
	require.Error(t, err)
}

func TestInbound(t *testing.T) {
	s, _ := OpenTestStore(t, DefaultFixture())
	ctx := context.Background()

	in, err := s.Inbound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, in.ID)
	assert.Equal(t, "203.0.113.10", in.Listen)
	assert.Equal(t, 443, in.Port)
	assert.Equal(t, "main", in.Remark)

	stream, err := in.ParseStreamSettings()
	require.NoError(t, err)
	assert.Equal(t, "tcp", stream.Network)
	assert.Equal(t, "reality", stream.Security)
	assert.Equal(t, TestPublicKey, stream.Settings.PublicKey)
	assert.Equal(t, []string{FixtureSNI}, stream.RealitySettings.ServerNames)
}

func TestInboundEmptyPanel(t *testing.T) {
	s, _ := OpenTestStore(t, Fixture{})
	_, err := s.Inbound(context.Background())
	require.ErrorIs(t, err, ErrNoInbound)

	_, _, err = s.Clients(context.Background(), TestUserID)
	require.ErrorIs(t, err, ErrNoInbound)
}

func TestClients(t *testing.T) {
	s, _ := OpenTestStore(t, DefaultFixture())
	ctx := context.Background()

	_, clients, err := s.Clients(ctx, TestUserID)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "alice", clients[0].Email)
	assert.Equal(t, "alice-phone", clients[1].Email)

	_, clients, err = s.Clients(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, clients)

	_, all, err := s.AllClients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestClientsEmptySettings(t *testing.T) {
	fx := Fixture{Inbounds: []Inbound{{ID: 1, Port: 443}}}
	s, _ := OpenTestStore(t, fx)

	_, clients, err := s.Clients(context.Background(), TestUserID)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestTraffic(t *testing.T) {
	s, _ := OpenTestStore(t, DefaultFixture())
	ctx := context.Background()

	up, down, err := s.Traffic(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1610612736), up)
	assert.Equal(t, int64(3221225472), down)

	_, _, err = s.Traffic(ctx, "alice-phone")
	require.ErrorIs(t, err, ErrNoTraffic)
}

func TestFingerprint(t *testing.T) {
	s, _ := OpenTestStore(t, DefaultFixture())
	ctx := context.Background()

	first, err := s.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	again, err := s.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	s.SetTraffic(t, "bob", 10, 2048)
	afterTraffic, err := s.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, afterTraffic)

	require.NoError(t, s.SetSNI(ctx, "example.com"))
	afterSNI, err := s.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, afterTraffic, afterSNI)
}

func TestFingerprintEmptyPanel(t *testing.T) {
	s, _ := OpenTestStore(t, Fixture{})
	fp, err := s.Fingerprint(context.Background())
	require.NoError(t, err)
	// md5 of the empty string
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", fp)
}

func TestSNI(t *testing.T) {
	s, _ := OpenTestStore(t, DefaultFixture())
	ctx := context.Background()

	sni, err := s.CurrentSNI(ctx)
	require.NoError(t, err)
	assert.Equal(t, FixtureSNI, sni)

	require.NoError(t, s.SetSNI(ctx, "example.com"))
	sni, err = s.CurrentSNI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.com", sni)

	in, err := s.Inbound(ctx)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(in.StreamSettings), &raw))
	reality := raw["realitySettings"].(map[string]any)
	assert.Equal(t, FixtureSNI+":443", reality["dest"], "unrelated keys survive")
	assert.Equal(t, []any{TestShortID, "ffff"}, reality["shortIds"])
}

func TestSetSNIKeepsRawValues(t *testing.T) {
	fx := DefaultFixture()
	fx.Inbounds[0].StreamSettings = `{"network":"tcp","security":"reality",` +
		`"sockopt":{"mark":9007199254740993},` +
		`"realitySettings":{"dest":"a.example&b<c>:443","xver":0,"serverNames":["old.example"]}}`
	s, _ := OpenTestStore(t, fx)
	ctx := context.Background()

	require.NoError(t, s.SetSNI(ctx, "example.com"))

	in, err := s.Inbound(ctx)
	require.NoError(t, err)
	assert.Contains(t, in.StreamSettings, `"mark":9007199254740993`)
	assert.Contains(t, in.StreamSettings, `"dest":"a.example&b<c>:443"`)
	assert.Contains(t, in.StreamSettings, `"serverNames":["example.com"]`)
	assert.NotContains(t, in.StreamSettings, "old.example")
}

func TestSetSNIWithoutStreamSettings(t *testing.T) {
	fx := Fixture{Inbounds: []Inbound{{ID: 1, Port: 443}}}
	s, _ := OpenTestStore(t, fx)
	require.ErrorIs(t, s.SetSNI(context.Background(), "x"), ErrNoStreamSettings)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	path := NewTestDB(t, DefaultFixture())
	s, err := Open(path, Options{ReadOnly: true, Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Error(t, s.SetSNI(context.Background(), "example.com"))
}

func TestTelegramIDUnmarshal(t *testing.T) {
	cases := map[string]int64{
		`123`:       123,
		`"456"`:     456,
		`""`:        0,
		`null`:      0,
		`7.0e2`:     700,
		`" 89 "`:    89,
		`987654321`: 987654321,
	}
	for in, want := range cases {
		var id TelegramID
		require.NoError(t, json.Unmarshal([]byte(in), &id), in)
		assert.Equal(t, want, int64(id), in)
	}

	var id TelegramID
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &id))
}
