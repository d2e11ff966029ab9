package panel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Inbound is a row of the 3x-ui inbounds table. Only the columns the bot
// reads are mapped.
type Inbound struct {
	ID             int `gorm:"primaryKey"`
	Remark         string
	Listen         string
	Port           int
	Protocol       string
	Settings       string
	StreamSettings string
}

func (Inbound) TableName() string { return "inbounds" }

// ClientTraffic is a row of the 3x-ui client_traffics table.
type ClientTraffic struct {
	ID        int `gorm:"primaryKey"`
	InboundID int
	Email     string `gorm:"uniqueIndex"`
	Up        int64
	Down      int64
}

func (ClientTraffic) TableName() string { return "client_traffics" }

// InboundSettings is the decoded inbounds.settings column.
type InboundSettings struct {
	Clients []Client `json:"clients"`
}

type Client struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Flow  string     `json:"flow,omitempty"`
	TgID  TelegramID `json:"tgId"`
}

// TelegramID is the tgId of a panel client. The panel writes it either as
// a number or as a string, with "" meaning unset.
type TelegramID int64

func (t *TelegramID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid tgId %s: %w", s, err)
		}
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*t = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = TelegramID(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid tgId %s", s)
	}
	*t = TelegramID(int64(f))
	return nil
}

// StreamSettings is the decoded inbounds.stream_settings column, reduced to
// what a VLESS link needs.
type StreamSettings struct {
	Network         string          `json:"network"`
	Security        string          `json:"security"`
	Settings        RealityClient   `json:"settings"`
	RealitySettings RealitySettings `json:"realitySettings"`
}

type RealitySettings struct {
	ServerNames []string      `json:"serverNames"`
	ShortIDs    []string      `json:"shortIds"`
	Settings    RealityClient `json:"settings"`
}

// RealityClient holds the client-side reality parameters.
type RealityClient struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
}

// ParseSettings decodes the settings column. An empty column yields no
// clients.
func (in *Inbound) ParseSettings() (InboundSettings, error) {
	var s InboundSettings
	if strings.TrimSpace(in.Settings) == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(in.Settings), &s); err != nil {
		return s, fmt.Errorf("inbound %d settings: %w", in.ID, err)
	}
	return s, nil
}

// ParseStreamSettings decodes the stream_settings column. An empty column
// yields zero values.
func (in *Inbound) ParseStreamSettings() (StreamSettings, error) {
	var s StreamSettings
	if strings.TrimSpace(in.StreamSettings) == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(in.StreamSettings), &s); err != nil {
		return s, fmt.Errorf("inbound %d stream settings: %w", in.ID, err)
	}
	return s, nil
}
