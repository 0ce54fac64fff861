package validator

import (
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

// HasMatingMaterial reports whether the given side could ever deliver
// checkmate with its remaining material. Used for the timeout exception:
// when a player flags, an opponent without mating material gets a draw,
// not a win.
//
// The check looks at the side's own material (any pawn, rook or queen can
// mate; a lone king, king+knight, or king+same-colored-bishops cannot).
// Positions where the defender's material matters too are vanishingly rare
// and err toward a draw. Parse failures err toward mating material so a
// bad FEN never turns a flag into a draw silently.
func HasMatingMaterial(fen string, side protocol.Color) bool {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return true
	}
	board := nchess.NewGame(opt).Position().Board()

	color := nchess.White
	if side == protocol.Black {
		color = nchess.Black
	}

	knights := 0
	lightBishops, darkBishops := 0, 0
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			sq := nchess.NewSquare(file, rank)
			piece := board.Piece(sq)
			if piece == nchess.NoPiece || piece.Color() != color {
				continue
			}
			switch piece.Type() {
			case nchess.Pawn, nchess.Rook, nchess.Queen:
				return true
			case nchess.Knight:
				knights++
			case nchess.Bishop:
				if (int(file)+int(rank))%2 == 0 {
					darkBishops++
				} else {
					lightBishops++
				}
			}
		}
	}

	bishops := lightBishops + darkBishops
	switch {
	case knights == 0 && bishops == 0:
		return false
	case knights == 1 && bishops == 0:
		return false
	case knights == 0 && (lightBishops == 0 || darkBishops == 0):
		return false
	default:
		// Two knights, opposite-colored bishops, or knight+bishop: a mate
		// exists even if it cannot be forced, which is all the rule asks.
		return true
	}
}
