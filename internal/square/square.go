// Package square implements the courseware square: a small PostgreSQL-backed
// sharing service where authors publish links to their courseware
// repositories and others browse, view and like them.
package square

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Typed failures. Handlers map these to response payloads; anything else is
// an internal error.
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrShareNotFound      = errors.New("share not found")
	ErrNotShareOwner      = errors.New("not the share owner")
)

const sessionTTL = 30 * 24 * time.Hour

// User is a registered square account.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Share is a published courseware listing.
type Share struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	CourseID  string    `json:"courseId"`
	RepoURL   string    `json:"repoUrl"`
	Likes     int       `json:"likes"`
	Views     int       `json:"views"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepoBinding associates a user with one of their courseware repositories.
type RepoBinding struct {
	ID       int64  `json:"id"`
	Platform string `json:"platform"`
	RepoURL  string `json:"repoUrl"`
	RawURL   string `json:"rawUrl"`
}

// Service is the square backed by PostgreSQL.
type Service struct {
	db *sql.DB
}

// New connects to the square database and ensures the schema exists.
func New(dsn string) (*Service, error) {
	if dsn == "" {
		return nil, fmt.Errorf("square: database connection required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("square: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("square: failed to connect: %w", err)
	}

	s := &Service{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS square_users (
			id            BIGSERIAL PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS square_sessions (
			token      TEXT PRIMARY KEY,
			user_id    BIGINT NOT NULL REFERENCES square_users(id) ON DELETE CASCADE,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS square_repos (
			id       BIGSERIAL PRIMARY KEY,
			user_id  BIGINT NOT NULL REFERENCES square_users(id) ON DELETE CASCADE,
			platform TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			raw_url  TEXT NOT NULL,
			UNIQUE (user_id, repo_url)
		)`,
		`CREATE TABLE IF NOT EXISTS square_shares (
			id         BIGSERIAL PRIMARY KEY,
			user_id    BIGINT NOT NULL REFERENCES square_users(id) ON DELETE CASCADE,
			title      TEXT NOT NULL,
			course_id  TEXT NOT NULL,
			repo_url   TEXT NOT NULL,
			likes      INTEGER NOT NULL DEFAULT 0,
			views      INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS square_share_likes (
			share_id BIGINT NOT NULL REFERENCES square_shares(id) ON DELETE CASCADE,
			user_id  BIGINT NOT NULL REFERENCES square_users(id) ON DELETE CASCADE,
			PRIMARY KEY (share_id, user_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("square: failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("square: failed to hash password: %w", err)
	}

	user := &User{Username: username}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO square_users (username, password_hash) VALUES ($1, $2)
		 RETURNING id, created_at`,
		username, string(hash)).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("square: failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and opens a session. Returns the session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	var userID int64
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM square_users WHERE username = $1`,
		username).Scan(&userID, &hash)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("square: login query failed: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO square_sessions (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, time.Now().Add(sessionTTL))
	if err != nil {
		return "", fmt.Errorf("square: failed to create session: %w", err)
	}
	return token, nil
}

// UserForToken resolves a session token to its user.
func (s *Service) UserForToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.created_at
		 FROM square_sessions s JOIN square_users u ON u.id = s.user_id
		 WHERE s.token = $1 AND s.expires_at > now()`,
		token).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("square: session query failed: %w", err)
	}
	return user, nil
}

// Logout deletes a session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM square_sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("square: logout failed: %w", err)
	}
	return nil
}

// BindRepo associates a repository with a user. Rebinding the same repo URL
// updates its raw URL.
func (s *Service) BindRepo(ctx context.Context, userID int64, platform, repoURL, rawURL string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO square_repos (user_id, platform, repo_url, raw_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, repo_url) DO UPDATE SET raw_url = EXCLUDED.raw_url, platform = EXCLUDED.platform`,
		userID, platform, repoURL, rawURL)
	if err != nil {
		return fmt.Errorf("square: failed to bind repo: %w", err)
	}
	return nil
}

// ReposFor lists the repositories bound to a user.
func (s *Service) ReposFor(ctx context.Context, userID int64) ([]RepoBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, repo_url, raw_url FROM square_repos WHERE user_id = $1 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("square: repo query failed: %w", err)
	}
	defer rows.Close()

	var out []RepoBinding
	for rows.Next() {
		var b RepoBinding
		if err := rows.Scan(&b.ID, &b.Platform, &b.RepoURL, &b.RawURL); err != nil {
			return nil, fmt.Errorf("square: failed to scan repo row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Publish lists a courseware group on the square. Republishing the same
// course updates the title and repo URL.
func (s *Service) Publish(ctx context.Context, userID int64, title, courseID, repoURL string) (*Share, error) {
	share := &Share{UserID: userID, Title: title, CourseID: courseID, RepoURL: repoURL}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO square_shares (user_id, title, course_id, repo_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, course_id) DO UPDATE SET title = EXCLUDED.title, repo_url = EXCLUDED.repo_url
		 RETURNING id, likes, views, created_at`,
		userID, title, courseID, repoURL).Scan(&share.ID, &share.Likes, &share.Views, &share.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("square: failed to publish: %w", err)
	}
	return share, nil
}

// Unpublish removes a share. Only the owner may remove it.
func (s *Service) Unpublish(ctx context.Context, shareID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM square_shares WHERE id = $1 AND user_id = $2`, shareID, userID)
	if err != nil {
		return fmt.Errorf("square: failed to unpublish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("square: failed to unpublish: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM square_shares WHERE id = $1)`, shareID).Scan(&exists); err != nil {
			return fmt.Errorf("square: failed to unpublish: %w", err)
		}
		if exists {
			return ErrNotShareOwner
		}
		return ErrShareNotFound
	}
	return nil
}

// List returns published shares, most liked first, then newest.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Share, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sh.id, sh.user_id, u.username, sh.title, sh.course_id, sh.repo_url,
		        sh.likes, sh.views, sh.created_at
		 FROM square_shares sh JOIN square_users u ON u.id = sh.user_id
		 ORDER BY sh.likes DESC, sh.created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("square: list query failed: %w", err)
	}
	defer rows.Close()

	var out []Share
	for rows.Next() {
		var sh Share
		if err := rows.Scan(&sh.ID, &sh.UserID, &sh.Author, &sh.Title, &sh.CourseID,
			&sh.RepoURL, &sh.Likes, &sh.Views, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("square: failed to scan share row: %w", err)
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// RegisterView bumps a share's view counter and returns the new count.
func (s *Service) RegisterView(ctx context.Context, shareID int64) (int, error) {
	var views int
	err := s.db.QueryRowContext(ctx,
		`UPDATE square_shares SET views = views + 1 WHERE id = $1 RETURNING views`,
		shareID).Scan(&views)
	if err == sql.ErrNoRows {
		return 0, ErrShareNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("square: failed to register view: %w", err)
	}
	return views, nil
}

// Like records one user's like on a share and returns the new like count.
// Liking twice is not an error; the count simply does not move.
func (s *Service) Like(ctx context.Context, shareID, userID int64) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO square_share_likes (share_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		shareID, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return 0, ErrShareNotFound
		}
		return 0, fmt.Errorf("square: failed to record like: %w", err)
	}

	var likes int
	err = s.db.QueryRowContext(ctx,
		`UPDATE square_shares
		 SET likes = (SELECT count(*) FROM square_share_likes WHERE share_id = $1)
		 WHERE id = $1 RETURNING likes`,
		shareID).Scan(&likes)
	if err == sql.ErrNoRows {
		return 0, ErrShareNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("square: failed to update like count: %w", err)
	}
	return likes, nil
}

// Close releases the database connection.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
