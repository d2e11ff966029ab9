package panel

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Test fixture values shared by the packages that read the panel.
const (
	TestUserID         int64 = 111111
	TestOtherUserID    int64 = 222222
	TestClientID             = "5f0c1b7e-8a1d-4a43-9b0f-3c2d1e4f5a6b"
	TestOtherID              = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	TestPublicKey            = "pbk-test-key"
	FixtureFingerprint       = "chrome"
	FixtureSNI               = "www.microsoft.com"
	TestShortID              = "a1b2c3"
)

// Fixture is the content of a test panel database.
type Fixture struct {
	Inbounds []Inbound
	Traffic  []ClientTraffic
}

// DefaultFixture is one reality inbound with two clients of TestUserID, one
// of TestOtherUserID and one without a Telegram binding.
func DefaultFixture() Fixture {
	return Fixture{
		Inbounds: []Inbound{
			{
				ID:       1,
				Remark:   "main",
				Listen:   "203.0.113.10",
				Port:     443,
				Protocol: "vless",
				Settings: SettingsJSON(
					Client{ID: TestClientID, Email: "alice", TgID: TelegramID(TestUserID)},
					Client{ID: TestOtherID, Email: "alice-phone", TgID: TelegramID(TestUserID)},
					Client{ID: "0d9c8b7a-6f5e-4d3c-2b1a-0f9e8d7c6b5a", Email: "bob", TgID: TelegramID(TestOtherUserID)},
					Client{ID: "11111111-2222-4333-8444-555555555555", Email: "nobody"},
				),
				StreamSettings: RealityStreamJSON(FixtureSNI),
			},
		},
		Traffic: []ClientTraffic{
			{ID: 1, InboundID: 1, Email: "alice", Up: 1610612736, Down: 3221225472},
			{ID: 2, InboundID: 1, Email: "bob", Up: 0, Down: 1024},
		},
	}
}

// SettingsJSON encodes clients as an inbounds.settings column.
func SettingsJSON(clients ...Client) string {
	raw, err := json.Marshal(InboundSettings{Clients: clients})
	if err != nil {
		panic(err)
	}
	return string(raw)
}

// RealityStreamJSON is a tcp/reality stream_settings column with the given
// server name.
func RealityStreamJSON(sni string) string {
	stream := map[string]any{
		"network":  "tcp",
		"security": "reality",
		"settings": map[string]any{
			"publicKey":   TestPublicKey,
			"fingerprint": FixtureFingerprint,
		},
		"realitySettings": map[string]any{
			"show":        false,
			"dest":        sni + ":443",
			"serverNames": []string{sni},
			"shortIds":    []string{TestShortID, "ffff"},
		},
	}
	raw, err := json.Marshal(stream)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

// NewTestDB writes fx to a fresh SQLite file under t.TempDir and returns
// its path.
func NewTestDB(t testing.TB, fx Fixture) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "x-ui.db")
	db, err := gorm.Open(
		sqlite.Open(path), &gorm.Config{Logger: logger.Discard},
	)
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&Inbound{}, &ClientTraffic{}))
	if len(fx.Inbounds) > 0 {
		require.NoError(t, db.Create(&fx.Inbounds).Error)
	}
	if len(fx.Traffic) > 0 {
		require.NoError(t, db.Create(&fx.Traffic).Error)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return path
}

// OpenTestStore opens a writable Store over a fresh database holding fx.
func OpenTestStore(t testing.TB, fx Fixture) (*Store, string) {
	t.Helper()

	path := NewTestDB(t, fx)
	s, err := Open(path, Options{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// SetClients rewrites the settings column of inbound id.
func (s *Store) SetClients(t testing.TB, id int, clients ...Client) {
	t.Helper()
	err := s.db.Model(&Inbound{}).
		Where("id = ?", id).
		Update("settings", SettingsJSON(clients...)).Error
	require.NoError(t, err)
}

// SetTraffic replaces the counters of email.
func (s *Store) SetTraffic(t testing.TB, email string, up, down int64) {
	t.Helper()
	err := s.db.Model(&ClientTraffic{}).
		Where("email = ?", email).
		Updates(map[string]any{"up": up, "down": down}).Error
	require.NoError(t, err)
}
