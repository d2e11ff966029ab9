package panel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNoInbound = errors.New("panel has no inbound")
	ErrNoTraffic = errors.New("no traffic record")
)

const inboundColumns = "id, COALESCE(remark, '') AS remark, COALESCE(listen, '') AS listen, " +
	"COALESCE(port, 0) AS port, COALESCE(protocol, '') AS protocol, " +
	"COALESCE(settings, '') AS settings, COALESCE(stream_settings, '') AS stream_settings"

// Inbound returns the first inbound of the panel. The bot serves a single
// inbound; additional ones are ignored.
func (s *Store) Inbound(ctx context.Context) (*Inbound, error) {
	var in Inbound
	err := s.db.WithContext(ctx).
		Model(&Inbound{}).
		Select(inboundColumns).
		Order("id").
		Limit(1).
		Take(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoInbound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbound: %w", err)
	}
	return &in, nil
}

// AllClients returns every client of the first inbound together with the
// inbound itself.
func (s *Store) AllClients(ctx context.Context) (*Inbound, []Client, error) {
	in, err := s.Inbound(ctx)
	if err != nil {
		return nil, nil, err
	}
	settings, err := in.ParseSettings()
	if err != nil {
		return nil, nil, err
	}
	return in, settings.Clients, nil
}

// Clients returns the clients bound to the given Telegram user, in the order
// the panel lists them.
func (s *Store) Clients(ctx context.Context, tgID int64) (*Inbound, []Client, error) {
	in, all, err := s.AllClients(ctx)
	if err != nil {
		return nil, nil, err
	}
	var owned []Client
	for _, c := range all {
		if int64(c.TgID) == tgID {
			owned = append(owned, c)
		}
	}
	return in, owned, nil
}

// Traffic returns the uploaded and downloaded bytes recorded for email.
func (s *Store) Traffic(ctx context.Context, email string) (up, down int64, err error) {
	var rows []ClientTraffic
	err = s.db.WithContext(ctx).
		Model(&ClientTraffic{}).
		Select("email, COALESCE(up, 0) AS up, COALESCE(down, 0) AS down").
		Where("email = ?", email).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read traffic for %s: %w", email, err)
	}
	if len(rows) == 0 {
		return 0, 0, ErrNoTraffic
	}
	return rows[0].Up, rows[0].Down, nil
}

// Fingerprint hashes the first inbound and every traffic row. Any change
// in either table changes the result.
func (s *Store) Fingerprint(ctx context.Context) (string, error) {
	var b strings.Builder

	in, err := s.Inbound(ctx)
	switch {
	case errors.Is(err, ErrNoInbound):
	case err != nil:
		return "", err
	default:
		fmt.Fprintf(
			&b, "inbound:%s:%s:%d:%s:%s",
			in.Settings, in.Listen, in.Port, in.Remark, in.StreamSettings,
		)
	}

	var traffic []ClientTraffic
	err = s.db.WithContext(ctx).
		Model(&ClientTraffic{}).
		Select("id, COALESCE(email, '') AS email, COALESCE(up, 0) AS up, COALESCE(down, 0) AS down").
		Order("id").
		Find(&traffic).Error
	if err != nil {
		return "", fmt.Errorf("failed to read traffic: %w", err)
	}
	for _, t := range traffic {
		fmt.Fprintf(&b, "traffic:%s:%d:%d", t.Email, t.Up, t.Down)
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
