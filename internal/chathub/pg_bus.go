package chathub

import (
	"clinicmsg/backend/pkg/logger"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Postgres NOTIFY payloads must be shorter than 8000 bytes.
const maxNotifyPayload = 7999

// Larger envelopes are parked here and only their id is notified.
const (
	spillTable = "chathub_bus_spill"
	spillTTL   = 5 * time.Minute
)

// PostgresBus shares groups across instances with LISTEN/NOTIFY.
type PostgresBus struct {
	db       *sql.DB
	listener *pq.Listener
	local    *MemoryBus

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[string]Group

	spillMu sync.Mutex
	spillOK bool

	closeOnce sync.Once
	done      chan struct{}
}

type pgEnvelope struct {
	Group Group  `json:"g"`
	Event *Event `json:"e,omitempty"`
	// id of a spilled envelope; Event is then empty
	Ref int64 `json:"r,omitempty"`
}

// encodeEnvelope returns the NOTIFY payload for ev, spilling it when it does
// not fit.
func encodeEnvelope(ctx context.Context, group Group, ev Event, spill func(context.Context, []byte) (int64, error)) ([]byte, error) {
	payload, err := json.Marshal(pgEnvelope{Group: group, Event: &ev})
	if err != nil {
		return nil, err
	}
	if len(payload) <= maxNotifyPayload {
		return payload, nil
	}

	ref, err := spill(ctx, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pgEnvelope{Group: group, Ref: ref})
}

// decodeEnvelope reverses encodeEnvelope, loading spilled envelopes.
func decodeEnvelope(ctx context.Context, raw []byte, load func(context.Context, int64) ([]byte, error)) (pgEnvelope, error) {
	var env pgEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	if env.Ref == 0 {
		if env.Event == nil {
			return env, errors.New("envelope without event")
		}
		return env, nil
	}

	full, err := load(ctx, env.Ref)
	if err != nil {
		return env, fmt.Errorf("load spilled event %d: %w", env.Ref, err)
	}
	var spilled pgEnvelope
	if err := json.Unmarshal(full, &spilled); err != nil {
		return env, err
	}
	if spilled.Group != env.Group || spilled.Event == nil {
		return env, fmt.Errorf("spilled event %d does not match group %s", env.Ref, env.Group)
	}
	return spilled, nil
}

// pgChannel maps a group to a valid channel name; identifiers are capped at 63 bytes.
func pgChannel(g Group) string {
	sum := sha1.Sum([]byte(g))
	return "grp_" + hex.EncodeToString(sum[:])
}

// NewPostgresBus listens on dsn and notifies through db.
func NewPostgresBus(dsn string, db *sql.DB) *PostgresBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &PostgresBus{
		db:       db,
		local:    NewMemoryBus(),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]Group),
		done:     make(chan struct{}),
	}

	b.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("postgres listener event")
		}
	})

	b.local.onFirst = func(g Group) error {
		ch := pgChannel(g)
		if err := b.listener.Listen(ch); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return err
		}
		b.mu.Lock()
		b.channels[ch] = g
		b.mu.Unlock()
		return nil
	}
	b.local.onLast = func(g Group) {
		ch := pgChannel(g)
		b.mu.Lock()
		delete(b.channels, ch)
		b.mu.Unlock()
		if err := b.listener.Unlisten(ch); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
			logger.Warn().Err(err).Str("group", string(g)).Msg("postgres unlisten failed")
		}
	}

	go b.listen()
	return b
}

func (b *PostgresBus) listen() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			return
		case n, ok := <-b.listener.Notify:
			if !ok {
				if b.ctx.Err() == nil {
					logger.Error().Msg("postgres listener closed")
					b.local.failAll(ErrBusFailed)
				}
				return
			}
			if n == nil {
				// reconnected; notifications sent while down are lost
				continue
			}
			b.dispatch(n)
		}
	}
}

func (b *PostgresBus) dispatch(n *pq.Notification) {
	b.mu.Lock()
	g, ok := b.channels[n.Channel]
	b.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	env, err := decodeEnvelope(ctx, []byte(n.Extra), b.load)
	if err != nil {
		logger.Error().Err(err).Str("channel", n.Channel).Msg("error unmarshalling bus event")
		return
	}
	if g != env.Group {
		return
	}
	_ = b.local.Publish(b.ctx, g, *env.Event)
}

func (b *PostgresBus) ensureSpill(ctx context.Context) error {
	b.spillMu.Lock()
	defer b.spillMu.Unlock()
	if b.spillOK {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+spillTable+` (
		id BIGSERIAL PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", spillTable, err)
	}
	b.spillOK = true
	return nil
}

func (b *PostgresBus) spill(ctx context.Context, payload []byte) (int64, error) {
	if err := b.ensureSpill(ctx); err != nil {
		return 0, err
	}

	var id int64
	err := b.db.QueryRowContext(ctx, "INSERT INTO "+spillTable+" (payload) VALUES ($1) RETURNING id", string(payload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("spill event: %w", err)
	}

	// every listener reads the row right after the notify
	if _, err := b.db.ExecContext(ctx, "DELETE FROM "+spillTable+" WHERE created_at < $1", time.Now().Add(-spillTTL)); err != nil {
		logger.Warn().Err(err).Msg("spill cleanup failed")
	}
	return id, nil
}

func (b *PostgresBus) load(ctx context.Context, id int64) ([]byte, error) {
	var payload string
	if err := b.db.QueryRowContext(ctx, "SELECT payload FROM "+spillTable+" WHERE id = $1", id).Scan(&payload); err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *PostgresBus) Subscribe(ctx context.Context, group Group, h Handler) (Subscription, error) {
	sub, err := b.local.Subscribe(ctx, group, h)
	if err != nil {
		return nil, fmt.Errorf("postgres listen %s: %w", group, err)
	}
	return sub, nil
}

func (b *PostgresBus) Publish(ctx context.Context, group Group, ev Event) error {
	payload, err := encodeEnvelope(ctx, group, ev, b.spill)
	if err != nil {
		return fmt.Errorf("postgres notify %s: %w", group, err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", pgChannel(group), string(payload)); err != nil {
		return fmt.Errorf("postgres notify %s: %w", group, err)
	}
	return nil
}

func (b *PostgresBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		_ = b.local.Close()
		err = b.listener.Close()
		<-b.done
	})
	return err
}
