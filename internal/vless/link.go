// Package vless renders client share links for a panel inbound.
package vless

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/eliseohh/xuibot/internal/panel"
)

const (
	// Flow is the only flow the panel hands out for reality inbounds.
	Flow = "xtls-rprx-vision"

	defaultHost     = "0.0.0.0"
	defaultNetwork  = "tcp"
	defaultSecurity = "none"
)

// Params are the server-side parts of a link, shared by every client of an
// inbound.
type Params struct {
	Host        string
	Port        string
	Remark      string
	Network     string
	Security    string
	PublicKey   string
	Fingerprint string
	SNI         string
	ShortID     string
}

// NewParams extracts link parameters from in. publicHost, when set,
// replaces the inbound listen address.
func NewParams(in *panel.Inbound, publicHost string) (Params, error) {
	stream, err := in.ParseStreamSettings()
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Host:        firstNonEmpty(publicHost, in.Listen, defaultHost),
		Port:        strconv.Itoa(in.Port),
		Remark:      in.Remark,
		Network:     firstNonEmpty(stream.Network, defaultNetwork),
		Security:    firstNonEmpty(stream.Security, defaultSecurity),
		PublicKey:   firstNonEmpty(stream.Settings.PublicKey, stream.RealitySettings.Settings.PublicKey),
		Fingerprint: firstNonEmpty(stream.Settings.Fingerprint, stream.RealitySettings.Settings.Fingerprint),
	}
	if len(stream.RealitySettings.ServerNames) > 0 {
		p.SNI = stream.RealitySettings.ServerNames[0]
	}
	if len(stream.RealitySettings.ShortIDs) > 0 {
		p.ShortID = stream.RealitySettings.ShortIDs[0]
	}
	return p, nil
}

// Link renders the vless:// URI for c.
func Link(p Params, c panel.Client) string {
	return fmt.Sprintf(
		"vless://%s@%s:%s?type=%s&security=%s&pbk=%s&fp=%s&sni=%s&sid=%s&spx=%%2F&flow=%s#%s-%s",
		clientID(c.ID),
		p.Host,
		p.Port,
		p.Network,
		p.Security,
		p.PublicKey,
		p.Fingerprint,
		p.SNI,
		p.ShortID,
		Flow,
		p.Remark,
		c.Email,
	)
}

// clientID canonicalises UUIDs and passes anything else through.
func clientID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
