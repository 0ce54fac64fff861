// Package validator wraps the legal-move engine as a pure adapter: given a
// reconstructed position and a move descriptor it returns either the new
// position with terminal flags, or a typed rejection. It never mutates
// session state and never panics on bad input.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

// Terminal reports a game-ending condition detected after a move.
type Terminal struct {
	Result protocol.Result
	Method string
}

// Accepted is the output of a legal move.
type Accepted struct {
	FEN      string
	SAN      string
	UCI      string
	Terminal *Terminal
}

// Rejection carries the fixed-taxonomy reason for an illegal move.
type Rejection struct {
	Reason protocol.RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return string(r.Reason)
}

var uciRe = regexp.MustCompile(`^([a-h][1-8])([a-h][1-8])([qrbn])?$`)

// Reconstruct replays stored UCI moves from the given start position.
// An empty or "startpos" FEN means the standard initial position.
func Reconstruct(startFEN string, movesUCI []string) (*nchess.Game, error) {
	var game *nchess.Game
	if fen := strings.TrimSpace(startFEN); fen == "" || fen == "startpos" {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse start fen: %w", err)
		}
		game = nchess.NewGame(opt)
	}
	notation := nchess.UCINotation{}
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(mv, notation, nil); err != nil {
			return nil, fmt.Errorf("replay move %q: %w", mv, err)
		}
	}
	return game, nil
}

// TurnOf reports the side to move in the given start position.
func TurnOf(startFEN string) protocol.Color {
	g, err := Reconstruct(startFEN, nil)
	if err == nil && g.Position().Turn() == nchess.Black {
		return protocol.Black
	}
	return protocol.White
}

// Apply replays the move log and applies moveStr on top of it. moveStr may
// be coordinate form ("e2e4", "e7e8q") or SAN ("Nf3", "O-O"). The returned
// error is reserved for internal failures (corrupt move log); all move
// problems come back as a Rejection.
func Apply(startFEN string, movesUCI []string, moveStr string) (*Accepted, *Rejection, error) {
	game, err := Reconstruct(startFEN, movesUCI)
	if err != nil {
		return nil, nil, err
	}
	pos := game.Position()

	raw := strings.TrimSpace(moveStr)
	if raw == "" {
		return nil, &Rejection{Reason: protocol.RejectIllegalGeometry, Detail: "empty move"}, nil
	}

	var chosen *nchess.Move
	if m := uciRe.FindStringSubmatch(strings.ToLower(raw)); m != nil {
		mv, rej := matchCoordinate(pos, m[1], m[2], m[3])
		if rej != nil {
			return nil, rej, nil
		}
		chosen = mv
	} else {
		mv, rej := matchSAN(pos, raw)
		if rej != nil {
			return nil, rej, nil
		}
		chosen = mv
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, chosen)
	if err := game.Move(chosen, nil); err != nil {
		return nil, nil, fmt.Errorf("apply validated move: %w", err)
	}

	return &Accepted{
		FEN:      game.FEN(),
		SAN:      san,
		UCI:      chosen.String(),
		Terminal: terminalOf(game),
	}, nil, nil
}

// matchCoordinate resolves a from/to(+promotion) descriptor against the
// position's legal moves and classifies the failure when none matches.
func matchCoordinate(pos *nchess.Position, from, to, promo string) (*nchess.Move, *Rejection) {
	fromSq, toSq := squareOf(from), squareOf(to)
	board := pos.Board()
	piece := board.Piece(fromSq)
	if piece == nchess.NoPiece || piece.Color() != pos.Turn() {
		return nil, &Rejection{
			Reason: protocol.RejectWrongPiece,
			Detail: fmt.Sprintf("no piece of yours on %s", from),
		}
	}

	var promotions []nchess.Move
	for _, mv := range pos.ValidMoves() {
		if mv.S1() != fromSq || mv.S2() != toSq {
			continue
		}
		if mv.Promo() == nchess.NoPieceType {
			return &mv, nil
		}
		if promoMatches(mv.Promo(), promo) {
			return &mv, nil
		}
		promotions = append(promotions, mv)
	}
	// Promotion with no (or unmatched) choice: queen by default.
	if promo == "" {
		for i := range promotions {
			if promotions[i].Promo() == nchess.Queen {
				return &promotions[i], nil
			}
		}
	}

	if pseudoReachable(board, pos.Turn(), piece, fromSq, toSq) {
		return nil, &Rejection{
			Reason: protocol.RejectLeavesKingInCheck,
			Detail: fmt.Sprintf("%s%s would leave your king in check", from, to),
		}
	}
	return nil, &Rejection{
		Reason: protocol.RejectIllegalGeometry,
		Detail: fmt.Sprintf("%s cannot move %s to %s", piece.Type().String(), from, to),
	}
}

// matchSAN resolves algebraic notation by encoding every legal move and
// comparing annotation-stripped forms.
func matchSAN(pos *nchess.Position, raw string) (*nchess.Move, *Rejection) {
	want := cleanSAN(raw)
	notation := nchess.AlgebraicNotation{}
	for _, mv := range pos.ValidMoves() {
		if cleanSAN(notation.Encode(pos, &mv)) == want {
			return &mv, nil
		}
	}
	if reason, ok := sanAmbiguity(pos, want); ok {
		return nil, reason
	}
	return nil, &Rejection{
		Reason: protocol.RejectIllegalGeometry,
		Detail: fmt.Sprintf("no legal move matches %q", raw),
	}
}

var bareSANRe = regexp.MustCompile(`^([KQRBN])([a-h][1-8])$`)

// sanAmbiguity detects the "Ne4 with two knights" case: a piece-letter +
// destination with several legal candidates and no disambiguator.
func sanAmbiguity(pos *nchess.Position, cleaned string) (*Rejection, bool) {
	m := bareSANRe.FindStringSubmatch(cleaned)
	if m == nil {
		return nil, false
	}
	pt := pieceTypeOf(m[1])
	toSq := squareOf(m[2])
	count := 0
	for _, mv := range pos.ValidMoves() {
		if mv.S2() == toSq && pos.Board().Piece(mv.S1()).Type() == pt {
			count++
		}
	}
	if count < 2 {
		return nil, false
	}
	return &Rejection{
		Reason: protocol.RejectAmbiguousMove,
		Detail: fmt.Sprintf("%d %ss can reach %s", count, strings.ToLower(pt.String()), m[2]),
	}, true
}

func cleanSAN(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "0", "O") // tolerate 0-0 castling spelling
	return strings.TrimRight(s, "+#!?")
}

func squareOf(s string) nchess.Square {
	file := nchess.File(s[0] - 'a')
	rank := nchess.Rank(s[1] - '1')
	return nchess.NewSquare(file, rank)
}

func pieceTypeOf(letter string) nchess.PieceType {
	switch letter {
	case "K":
		return nchess.King
	case "Q":
		return nchess.Queen
	case "R":
		return nchess.Rook
	case "B":
		return nchess.Bishop
	case "N":
		return nchess.Knight
	default:
		return nchess.Pawn
	}
}

func promoMatches(pt nchess.PieceType, promo string) bool {
	switch promo {
	case "q":
		return pt == nchess.Queen
	case "r":
		return pt == nchess.Rook
	case "b":
		return pt == nchess.Bishop
	case "n":
		return pt == nchess.Knight
	default:
		return false
	}
}

// terminalOf converts the engine outcome into the fixed method taxonomy.
// Claimable draws (threefold, fifty-move) are applied automatically: the
// server arbitrates, nobody claims.
func terminalOf(game *nchess.Game) *Terminal {
	if game.Outcome() == nchess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				_ = game.Draw(m)
				break
			}
		}
	}
	var result protocol.Result
	switch game.Outcome() {
	case nchess.WhiteWon:
		result = protocol.ResultWhiteWins
	case nchess.BlackWon:
		result = protocol.ResultBlackWins
	case nchess.Draw:
		result = protocol.ResultDraw
	default:
		return nil
	}
	return &Terminal{Result: result, Method: methodName(game.Method())}
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return protocol.MethodCheckmate
	case nchess.Stalemate:
		return protocol.MethodStalemate
	case nchess.InsufficientMaterial:
		return protocol.MethodInsufficientMaterial
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return protocol.MethodRepetition
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return protocol.MethodFiftyMove
	default:
		return strings.ToLower(m.String())
	}
}
