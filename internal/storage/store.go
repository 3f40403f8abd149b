package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	"roomchat/internal/storage/zapadapter"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotExist    = errors.New("user does not exist")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomBadUsers    = errors.New("bad users list")
	ErrRoomNotExist    = errors.New("room does not exist")
	ErrNotRoomMember   = errors.New("user is not a member of the room")
	ErrMessageBadText  = errors.New("message text is empty")
	ErrRoomBadListing  = errors.New("listing id is empty")
	ErrUsernameIsEmpty = errors.New("username is empty")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn
	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ConnectConfig: %w", err)
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes every connection of the pool
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates user and returns its id.
func (s *Store) CreateUser(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, ErrUsernameIsEmpty
	}
	s.logger.Debugf("Creating user (%s)", username)

	var id int64
	sql := "insert into users (username, created_at) values ($1, $2) returning id"
	err := s.db.QueryRow(ctx, sql, username, time.Now()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrUserExists
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// CreateRoom performs two-step transaction to create room
// (1. insert room record; 2. bulk insert on "room_members" table).
// Only one room per listing may exist for the same set of members.
func (s *Store) CreateRoom(ctx context.Context, listingID, title string, users []int64) (Room, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Room{}, ErrRoomBadListing
	}
	key, err := memberKey(users)
	if err != nil {
		return Room{}, err
	}
	if strings.TrimSpace(title) == "" {
		title = listingID
	}

	s.logger.Debugf("Creating room for listing (%s) with users (%v)", listingID, users)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Room{}, err
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	room := Room{
		ListingID: listingID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	sql := "insert into rooms (listing_id, title, member_key, created_at) values ($1, $2, $3, $4) returning id"
	err = tx.QueryRow(ctx, sql, listingID, title, key, room.CreatedAt).Scan(&room.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Room{}, ErrRoomExists
		}
		return Room{}, err
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"room_members"}, []string{"room_id", "user_id"}, membersOf(room.ID, users))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return Room{}, ErrRoomBadUsers
		}
		return Room{}, err
	}

	room.Members, err = usersByID(ctx, tx, users)
	if err != nil {
		return Room{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, err
	}

	s.logger.Debugf("Created room (%s) with id %d", title, room.ID)

	return room, nil
}

// memberKey identifies a member set independently of its order.
func memberKey(users []int64) (string, error) {
	if len(users) < 2 {
		return "", ErrRoomBadUsers
	}
	sorted := make([]int64, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, u := range sorted {
		if i > 0 && u == sorted[i-1] {
			return "", ErrRoomBadUsers
		}
		parts[i] = strconv.FormatInt(u, 10)
	}
	return strings.Join(parts, ","), nil
}

func usersByID(ctx context.Context, q pgx.Tx, ids []int64) ([]User, error) {
	rows, err := q.Query(ctx, "select id, username, created_at from users where id = any($1) order by id", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateMessage stores a message written by a member of the room and returns it
// with its id and creation time.
func (s *Store) CreateMessage(ctx context.Context, room, author int64, text, clientKey string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrMessageBadText
	}
	s.logger.Debugf("Creating message from user (id: %d) in room (id: %d)", author, room)

	m := Message{
		RoomID:    room,
		AuthorID:  author,
		Text:      text,
		ClientKey: clientKey,
		CreatedAt: time.Now().UTC(),
	}

	var key pgtype.Text
	if clientKey != "" {
		key = pgtype.Text{String: clientKey, Status: pgtype.Present}
	} else {
		key = pgtype.Text{Status: pgtype.Null}
	}

	sql := `insert into messages (room_id, author_id, text, client_key, created_at)
			select $1, $2, $3, $4, $5
			 where exists (select 1 from room_members where room_id = $1 and user_id = $2)
			returning id`
	err := s.db.QueryRow(ctx, sql, room, author, text, key, m.CreatedAt).Scan(&m.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.roomExists(ctx, room); err != nil {
			return Message{}, err
		}
		return Message{}, ErrNotRoomMember
	}
	if err != nil {
		return Message{}, err
	}

	return m, nil
}

func (s *Store) roomExists(ctx context.Context, room int64) error {
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from rooms where id = $1", room).Scan(&i)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRoomNotExist
	}
	return err
}

func (s *Store) userExists(ctx context.Context, user int64) error {
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from users where id = $1", user).Scan(&i)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotExist
	}
	return err
}

// RoomsByUserID returns every room of the user with its members, sorted by the time of the last message
// in the room (from latest to oldest). Rooms without messages are ordered by creation time.
func (s *Store) RoomsByUserID(ctx context.Context, user int64) ([]Room, error) {
	s.logger.Debugf("Retrieving rooms for user (id: %d)", user)

	if err := s.userExists(ctx, user); err != nil {
		return nil, err
	}

	sql := ` -- user rooms ordered by last activity
			with user_rooms as (
				select rooms.id,
					   rooms.listing_id,
					   rooms.title,
					   rooms.created_at,
					   max(messages.created_at) as last_message_at
				  from rooms
				  join room_members
					on room_members.room_id = rooms.id
				  left join messages
					on messages.room_id = rooms.id
				 where room_members.user_id = $1
				 group by rooms.id
			),

			members_per_room as (
				select room_id,
					   array_agg(jsonb_build_object('id', users.id, 'username', users.username, 'created_at', users.created_at)
								 order by users.id) as members
				  from room_members
				  join users
					on room_members.user_id = users.id
				 group by room_id
			)

			select user_rooms.id,
				   user_rooms.listing_id,
				   user_rooms.title,
				   members_per_room.members,
				   user_rooms.created_at
			  from user_rooms
			  join members_per_room
				on user_rooms.id = members_per_room.room_id
			 order by coalesce(user_rooms.last_message_at, user_rooms.created_at) desc`

	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var (
			r       Room
			members pgtype.JSONBArray
		)
		if err := rows.Scan(&r.ID, &r.ListingID, &r.Title, &members, &r.CreatedAt); err != nil {
			return nil, err
		}

		membersJSON := make([]string, len(members.Elements))
		if err := members.AssignTo(&membersJSON); err != nil {
			return nil, err
		}
		r.Members = make([]User, len(membersJSON))
		for i, v := range membersJSON {
			if err := json.Unmarshal([]byte(v), &r.Members[i]); err != nil {
				return nil, err
			}
		}

		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d rooms", len(rooms))

	return rooms, nil
}

// MessagesByRoomID returns list of all room messages, sorted by message creation time
// (from earliest to latest)
func (s *Store) MessagesByRoomID(ctx context.Context, room int64) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for room (id: %d)", room)

	if err := s.roomExists(ctx, room); err != nil {
		return nil, err
	}

	sql := `select id, room_id, author_id, text, client_key, created_at
			  from messages
			 where room_id = $1
			 order by created_at, id`

	messages, err := s.queryMessages(ctx, sql, room)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...interface{}) ([]Message, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m   Message
			key pgtype.Text
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Text, &key, &m.CreatedAt); err != nil {
			return nil, err
		}
		if key.Status == pgtype.Present {
			m.ClientKey = key.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RoomMembers returns the ids of the room members in ascending order
func (s *Store) RoomMembers(ctx context.Context, room int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, "select user_id from room_members where room_id = $1 order by user_id", room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(members) == 0 {
		return nil, ErrRoomNotExist
	}
	return members, nil
}

// Hydrate builds the initial_data payload of a user: every room with its full history,
// most recently active first.
func (s *Store) Hydrate(ctx context.Context, user int64) ([]chat.Room, error) {
	rooms, err := s.RoomsByUserID(ctx, user)
	if err != nil {
		return nil, err
	}

	sql := `select messages.id, messages.room_id, messages.author_id, messages.text, messages.client_key, messages.created_at
			  from messages
			  join room_members
				on room_members.room_id = messages.room_id
			 where room_members.user_id = $1
			 order by messages.created_at, messages.id`

	messages, err := s.queryMessages(ctx, sql, user)
	if err != nil {
		return nil, err
	}

	history := make(map[int64][]Message, len(rooms))
	for _, m := range messages {
		history[m.RoomID] = append(history[m.RoomID], m)
	}

	out := make([]chat.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Chat(history[r.ID]))
	}

	s.logger.Debugf("Hydrated %d rooms with %d messages for user (id: %d)", len(out), len(messages), user)

	return out, nil
}
