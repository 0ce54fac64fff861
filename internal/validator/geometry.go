package validator

import (
	nchess "github.com/corentings/chess/v2"
)

// pseudoReachable reports whether a piece could make the from→to move by
// its movement pattern alone, ignoring whether the mover's king ends up in
// check. Used to split IllegalGeometry from LeavesKingInCheck: a move that
// is geometrically sound but absent from the legal-move list must be
// refused because of the king.
//
// En passant to an empty diagonal square is not modelled here; the rare
// "en passant exposes the king" case classifies as IllegalGeometry.
func pseudoReachable(board *nchess.Board, mover nchess.Color, piece nchess.Piece, from, to nchess.Square) bool {
	if from == to {
		return false
	}
	target := board.Piece(to)
	if target != nchess.NoPiece && target.Color() == mover {
		return false
	}

	df := int(to.File()) - int(from.File())
	dr := int(to.Rank()) - int(from.Rank())
	abs := func(n int) int {
		if n < 0 {
			return -n
		}
		return n
	}

	switch piece.Type() {
	case nchess.Knight:
		return (abs(df) == 1 && abs(dr) == 2) || (abs(df) == 2 && abs(dr) == 1)
	case nchess.King:
		if abs(df) <= 1 && abs(dr) <= 1 {
			return true
		}
		return castleGeometry(board, mover, from, to, df, dr)
	case nchess.Rook:
		return (df == 0 || dr == 0) && pathClear(board, from, to, df, dr)
	case nchess.Bishop:
		return abs(df) == abs(dr) && pathClear(board, from, to, df, dr)
	case nchess.Queen:
		return (df == 0 || dr == 0 || abs(df) == abs(dr)) && pathClear(board, from, to, df, dr)
	case nchess.Pawn:
		return pawnGeometry(board, mover, from, to, df, dr)
	default:
		return false
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

// pathClear checks the squares strictly between from and to along a line.
func pathClear(board *nchess.Board, from, to nchess.Square, df, dr int) bool {
	stepF, stepR := sign(df), sign(dr)
	f, r := int(from.File())+stepF, int(from.Rank())+stepR
	for f != int(to.File()) || r != int(to.Rank()) {
		if board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r))) != nchess.NoPiece {
			return false
		}
		f += stepF
		r += stepR
	}
	return true
}

func pawnGeometry(board *nchess.Board, mover nchess.Color, from, to nchess.Square, df, dr int) bool {
	dir, homeRank := 1, 1
	if mover == nchess.Black {
		dir, homeRank = -1, 6
	}
	target := board.Piece(to)
	switch {
	case df == 0 && dr == dir:
		return target == nchess.NoPiece
	case df == 0 && dr == 2*dir && int(from.Rank()) == homeRank:
		mid := nchess.NewSquare(from.File(), nchess.Rank(int(from.Rank())+dir))
		return board.Piece(mid) == nchess.NoPiece && target == nchess.NoPiece
	case (df == 1 || df == -1) && dr == dir:
		return target != nchess.NoPiece && target.Color() != mover
	default:
		return false
	}
}

// castleGeometry accepts a two-file king slide on the home rank when the
// matching rook is in its corner and the path between is empty.
func castleGeometry(board *nchess.Board, mover nchess.Color, from, to nchess.Square, df, dr int) bool {
	if dr != 0 || (df != 2 && df != -2) {
		return false
	}
	rank := nchess.Rank1
	if mover == nchess.Black {
		rank = nchess.Rank8
	}
	if from.Rank() != rank || from.File() != nchess.FileE {
		return false
	}
	rookFile := nchess.FileH
	if df < 0 {
		rookFile = nchess.FileA
	}
	rook := board.Piece(nchess.NewSquare(rookFile, rank))
	if rook == nchess.NoPiece || rook.Type() != nchess.Rook || rook.Color() != mover {
		return false
	}
	return pathClear(board, from, nchess.NewSquare(rookFile, rank), int(rookFile)-int(from.File()), 0)
}
