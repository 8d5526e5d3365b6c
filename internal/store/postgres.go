package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mbarnett/parley/internal/database"
	"github.com/mbarnett/parley/internal/model"
)

// Postgres implements WriteStore and ReadStore over the instance pools.
// Mutations use the single-connection write pool; queries use the bounded
// read pool under its acquire timeout.
type Postgres struct {
	pools *database.Pools
}

// NewPostgres creates the PostgreSQL store over existing pools.
func NewPostgres(pools *database.Pools) *Postgres {
	return &Postgres{pools: pools}
}

// --- WriteStore ---

func (p *Postgres) InsertUser(ctx context.Context, u model.User) error {
	_, err := p.pools.Write.Exec(ctx, `
		INSERT INTO users (id, username, display_name, created_at)
		VALUES ($1, $2, $3, $4)
	`, u.ID, u.Username, u.DisplayName, u.CreatedAt)
	return err
}

func (p *Postgres) InsertRoom(ctx context.Context, r model.Room) error {
	_, err := p.pools.Write.Exec(ctx, `
		INSERT INTO rooms (id, name, topic, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Name, r.Topic, r.CreatedBy, r.CreatedAt)
	return err
}

func (p *Postgres) InsertMembership(ctx context.Context, m model.Membership) error {
	_, err := p.pools.Write.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, m.RoomID, m.UserID, m.JoinedAt)
	return err
}

func (p *Postgres) DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := p.pools.Write.Exec(ctx, `
		DELETE FROM memberships WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	return err
}

func (p *Postgres) InsertSession(ctx context.Context, s model.Session) error {
	_, err := p.pools.Write.Exec(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, s.Token, s.UserID, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *Postgres) DeleteSession(ctx context.Context, token string) error {
	_, err := p.pools.Write.Exec(ctx, `
		DELETE FROM sessions WHERE token = $1
	`, token)
	return err
}

func (p *Postgres) GetMessageByDedupKey(ctx context.Context, roomID uuid.UUID, clientMessageID string) (model.Message, error) {
	// Runs on the write connection: the dedup lookup must observe every
	// prior insert in queue order.
	row := p.pools.Write.QueryRow(ctx, `
		SELECT id, room_id, creator_id, content, client_message_id,
		       mentions, sound_commands, created_at
		FROM messages
		WHERE room_id = $1 AND client_message_id = $2
	`, roomID, clientMessageID)
	return scanMessage(row)
}

func (p *Postgres) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := p.pools.Write.Exec(ctx, `
		INSERT INTO messages (id, room_id, creator_id, content, client_message_id,
		                      mentions, sound_commands, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.RoomID, m.CreatorID, m.Content, m.ClientMessageID,
		m.Mentions, m.SoundCommands, m.CreatedAt)
	return err
}

// --- ReadStore ---

func (p *Postgres) GetSession(ctx context.Context, token string) (model.Session, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	var s model.Session
	err := p.pools.Read.QueryRow(ctx, `
		SELECT token, user_id, created_at, expires_at
		FROM sessions WHERE token = $1
	`, token).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	var u model.User
	err := p.pools.Read.QueryRow(ctx, `
		SELECT id, username, display_name, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	var u model.User
	err := p.pools.Read.QueryRow(ctx, `
		SELECT id, username, display_name, created_at
		FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	rows, err := p.pools.Read.Query(ctx, `
		SELECT user_id FROM memberships WHERE room_id = $1 ORDER BY user_id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (p *Postgres) GetRoomMessages(ctx context.Context, roomID uuid.UUID, limit int, before time.Time) ([]model.Message, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = p.pools.Read.Query(ctx, `
			SELECT id, room_id, creator_id, content, client_message_id,
			       mentions, sound_commands, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, roomID, limit)
	} else {
		rows, err = p.pools.Read.Query(ctx, `
			SELECT id, room_id, creator_id, content, client_message_id,
			       mentions, sound_commands, created_at
			FROM messages
			WHERE room_id = $1 AND created_at < $2
			ORDER BY created_at DESC
			LIMIT $3
		`, roomID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (p *Postgres) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	ctx, cancel := p.pools.ReadContext(ctx)
	defer cancel()

	rows, err := p.pools.Read.Query(ctx, `
		SELECT id, room_id, creator_id, content, client_message_id,
		       mentions, sound_commands, created_at
		FROM messages
		WHERE content ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// scanMessage scans one message row.
func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.RoomID, &m.CreatorID, &m.Content, &m.ClientMessageID,
		&m.Mentions, &m.SoundCommands, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// scanMessages scans all rows of a message query.
func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.CreatorID, &m.Content, &m.ClientMessageID,
			&m.Mentions, &m.SoundCommands, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
