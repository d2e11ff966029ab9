// Package account answers the questions the bot asks about a Telegram user:
// which panel clients they own, how much traffic those clients used and
// what their share links are.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/eliseohh/xuibot/internal/panel"
	"github.com/eliseohh/xuibot/internal/vless"
)

var ErrClientNotFound = errors.New("client not found")

// UnknownEmail labels clients the panel stored without an email.
const UnknownEmail = "Неизвестно"

const bytesPerGB = 1 << 30

// Source is the subset of the panel store the service reads.
type Source interface {
	Clients(ctx context.Context, tgID int64) (*panel.Inbound, []panel.Client, error)
	AllClients(ctx context.Context) (*panel.Inbound, []panel.Client, error)
	Traffic(ctx context.Context, email string) (up, down int64, err error)
}

type Service struct {
	src        Source
	publicHost string
}

func NewService(src Source, publicHost string) *Service {
	return &Service{src: src, publicHost: publicHost}
}

// Summary is one menu entry.
type Summary struct {
	Email      string
	HasTraffic bool
	UpGB       float64
	DownGB     float64
	TotalGB    float64
}

// clients treats a panel without inbounds as one without clients.
func (s *Service) clients(ctx context.Context, tgID int64) (*panel.Inbound, []panel.Client, error) {
	in, clients, err := s.src.Clients(ctx, tgID)
	if errors.Is(err, panel.ErrNoInbound) {
		return nil, nil, nil
	}
	return in, clients, err
}

// IsAuthorized reports whether tgID owns at least one client.
func (s *Service) IsAuthorized(ctx context.Context, tgID int64) (bool, error) {
	_, clients, err := s.clients(ctx, tgID)
	if err != nil {
		return false, err
	}
	return len(clients) > 0, nil
}

// Menu lists tgID's clients with their traffic in gigabytes.
func (s *Service) Menu(ctx context.Context, tgID int64) ([]Summary, error) {
	_, clients, err := s.clients(ctx, tgID)
	if err != nil {
		return nil, err
	}

	menu := make([]Summary, 0, len(clients))
	for _, c := range clients {
		item := Summary{Email: c.Email}
		if item.Email == "" {
			item.Email = UnknownEmail
		}

		up, down, err := s.src.Traffic(ctx, item.Email)
		switch {
		case errors.Is(err, panel.ErrNoTraffic):
		case err != nil:
			return nil, err
		default:
			item.HasTraffic = true
			item.UpGB = BytesToGB(up)
			item.DownGB = BytesToGB(down)
			item.TotalGB = round2(item.UpGB + item.DownGB)
		}
		menu = append(menu, item)
	}
	return menu, nil
}

// Config returns the share link of tgID's client with the given email.
func (s *Service) Config(ctx context.Context, tgID int64, email string) (string, error) {
	in, clients, err := s.clients(ctx, tgID)
	if err != nil {
		return "", err
	}
	for _, c := range clients {
		if c.Email != email {
			continue
		}
		p, err := vless.NewParams(in, s.publicHost)
		if err != nil {
			return "", fmt.Errorf("failed to build link params: %w", err)
		}
		return vless.Link(p, c), nil
	}
	return "", ErrClientNotFound
}

// Entry is the link a user currently holds for one of their clients.
type Entry struct {
	Email string
	Link  string
	Hash  string
}

// Snapshot maps Telegram ids to their entries in panel order.
type Snapshot map[int64][]Entry

// Baseline maps Telegram ids to email -> link hash.
type Baseline map[int64]map[string]string

// Change is an entry the user has not been told about yet.
type Change struct {
	TgID int64
	Entry
}

// Snapshot builds the links of every client bound to a Telegram user.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	in, clients, err := s.src.AllClients(ctx)
	if errors.Is(err, panel.ErrNoInbound) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	p, err := vless.NewParams(in, s.publicHost)
	if err != nil {
		return nil, fmt.Errorf("failed to build link params: %w", err)
	}

	snap := Snapshot{}
	for _, c := range clients {
		if c.TgID == 0 {
			continue
		}
		link := vless.Link(p, c)
		tgID := int64(c.TgID)
		snap[tgID] = append(snap[tgID], Entry{Email: c.Email, Link: link, Hash: Hash(link)})
	}
	return snap, nil
}

// Baseline drops the links, keeping what Changes compares.
func (snap Snapshot) Baseline() Baseline {
	b := make(Baseline, len(snap))
	for tgID, entries := range snap {
		m := make(map[string]string, len(entries))
		for _, e := range entries {
			m[e.Email] = e.Hash
		}
		b[tgID] = m
	}
	return b
}

// Changes returns the entries of current that are new or whose link differs
// from baseline. Clients that disappeared are not reported.
func Changes(baseline Baseline, current Snapshot) []Change {
	ids := make([]int64, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var changes []Change
	for _, id := range ids {
		old := baseline[id]
		for _, e := range current[id] {
			if h, ok := old[e.Email]; ok && h == e.Hash {
				continue
			}
			changes = append(changes, Change{TgID: id, Entry: e})
		}
	}
	return changes
}

// Hash is the fingerprint stored for a link.
func Hash(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:])
}

// BytesToGB converts bytes to GiB rounded to two decimals.
func BytesToGB(b int64) float64 {
	return round2(float64(b) / bytesPerGB)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
