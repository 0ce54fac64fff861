// Package store persists completed games and the append-only rating
// history to Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chess-arena-server/internal/session"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RatingChange records one player's rating movement for a finished game.
type RatingChange struct {
	UserID    string
	Class     string
	OldRating int
	NewRating int
}

// SaveResult archives a finished game and appends both rating rows in a
// single transaction. Re-running the same game upserts the archive row
// but never duplicates rating history.
func (r *Repository) SaveResult(ctx context.Context, res session.Result, changes []RatingChange) error {
	if r == nil || r.db == nil {
		return nil
	}

	pgnResult := mapResultToPGN(res.Outcome)
	pgn := buildPGN(res, pgnResult)
	movesUCIRaw, _ := json.Marshal(res.MovesUCI)
	movesSANRaw, _ := json.Marshal(res.MovesSAN)
	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO arena_games (
	    game_id, white_id, white_name, black_id, black_name,
	    time_control, class,
	    result, result_method, moves_uci, moves_san, final_fen, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    final_fen=EXCLUDED.final_fen,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	if _, err := tx.ExecContext(ctx, q,
		res.GameID,
		res.White.UserID, res.White.Username,
		res.Black.UserID, res.Black.Username,
		res.TimeControl.String(), res.TimeControl.Class(),
		string(res.Outcome), strings.TrimSpace(res.Method),
		string(movesUCIRaw), string(movesSANRaw), res.FEN, pgn,
		res.StartedAt, res.EndedAt, duration,
	); err != nil {
		return fmt.Errorf("archive game: %w", err)
	}

	hq := `INSERT INTO rating_history (user_id, class, game_id, old_rating, new_rating, recorded_at)
	  VALUES ($1,$2,$3,$4,$5,$6)
	  ON CONFLICT (user_id, game_id) DO NOTHING`
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, hq,
			c.UserID, c.Class, res.GameID, c.OldRating, c.NewRating, res.EndedAt,
		); err != nil {
			return fmt.Errorf("rating history %s: %w", c.UserID, err)
		}
	}

	return tx.Commit()
}

// CurrentRating returns the player's latest rating in a class, with ok
// false when the player has no history there.
func (r *Repository) CurrentRating(ctx context.Context, userID, class string) (int, bool, error) {
	if r == nil || r.db == nil {
		return 0, false, nil
	}
	q := `SELECT new_rating FROM rating_history
	  WHERE user_id = $1 AND class = $2
	  ORDER BY recorded_at DESC, id DESC LIMIT 1`
	var rating int
	err := r.db.QueryRowContext(ctx, q, userID, class).Scan(&rating)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rating, true, nil
}

func mapResultToPGN(result protocol.Result) string {
	switch result {
	case protocol.ResultWhiteWins:
		return "1-0"
	case protocol.ResultBlackWins:
		return "0-1"
	case protocol.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(res session.Result, pgnResult string) string {
	var b strings.Builder
	date := res.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString("[Site \"chess-arena-server\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(res.White.Username)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(res.Black.Username)))
	b.WriteString(fmt.Sprintf("[WhiteElo \"%d\"]\n", res.White.Rating))
	b.WriteString(fmt.Sprintf("[BlackElo \"%d\"]\n", res.Black.Rating))
	b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", res.TimeControl.String()))
	if strings.TrimSpace(res.Method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(res.Method)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(res.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(res.MovesSAN[i])))
		if i+1 < len(res.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(res.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
