// Package matchmaking pairs queued players by rating proximity within a
// time-control partition. Each ticket's acceptable rating window widens
// the longer it waits, and tickets that outlive the queue timeout are
// returned to the caller unpaired.
package matchmaking

import (
	"crypto/rand"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena-server/internal/obslog"
	"github.com/park285/chess-arena-server/pkg/protocol"
)

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrInvalidControl  = errors.New("unsupported time control")
	ErrDuplicateTicket = errors.New("player already queued")
	ErrPlayerBusy      = errors.New("player already in a game")
)

type Ticket struct {
	ID         string
	UserID     string
	Rating     int
	Control    protocol.TimeControl
	EnqueuedAt time.Time
}

type Pair struct {
	White   Ticket
	Black   Ticket
	Control protocol.TimeControl
}

type Config struct {
	InitialWindow int
	WidenStep     int
	MaxWindow     int
	WidenEvery    time.Duration
	Timeout       time.Duration

	// Busy reports whether a user is already bound to an active game.
	Busy func(userID string) bool

	// OnQueued fires after a ticket is accepted, before any pair it
	// completes is dispatched, so the queued ack always precedes the
	// pairing notification.
	OnQueued  func(Ticket)
	OnPair    func(Pair)
	OnTimeout func(Ticket)
}

type Queue struct {
	cfg Config

	mu         sync.Mutex
	partitions map[string][]*Ticket
	byUser     map[string]*Ticket
	// pairKey -> userID who had white last time the two met
	lastWhite map[string]string

	quit chan struct{}
	done chan struct{}
}

func NewQueue(cfg Config) *Queue {
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = 100
	}
	if cfg.WidenStep <= 0 {
		cfg.WidenStep = 50
	}
	if cfg.MaxWindow < cfg.InitialWindow {
		cfg.MaxWindow = 500
	}
	if cfg.WidenEvery <= 0 {
		cfg.WidenEvery = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	q := &Queue{
		cfg:        cfg,
		partitions: make(map[string][]*Ticket),
		byUser:     make(map[string]*Ticket),
		lastWhite:  make(map[string]string),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) Close() {
	select {
	case <-q.quit:
		return
	default:
	}
	close(q.quit)
	<-q.done
}

func partitionKey(tc protocol.TimeControl) string {
	return tc.Class() + ":" + tc.String()
}

// Enqueue registers a matchmaking ticket. Pairing is attempted
// immediately; the widening sweep picks up whatever is left waiting.
func (q *Queue) Enqueue(userID string, rating int, tc protocol.TimeControl) (*Ticket, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgs
	}
	if tc.InitialSeconds <= 0 || tc.IncrementSeconds < 0 {
		return nil, ErrInvalidControl
	}
	if q.cfg.Busy != nil && q.cfg.Busy(userID) {
		return nil, ErrPlayerBusy
	}

	q.mu.Lock()
	if _, ok := q.byUser[userID]; ok {
		q.mu.Unlock()
		return nil, ErrDuplicateTicket
	}
	t := &Ticket{
		ID:         uuid.NewString(),
		UserID:     userID,
		Rating:     rating,
		Control:    tc,
		EnqueuedAt: time.Now(),
	}
	key := partitionKey(tc)
	q.partitions[key] = append(q.partitions[key], t)
	q.byUser[userID] = t
	pairs := q.collectPairsLocked(time.Now())
	q.mu.Unlock()

	obslog.L().Info("mm_enqueue",
		zap.String("user_id", userID),
		zap.Int("rating", rating),
		zap.String("partition", key))
	if q.cfg.OnQueued != nil {
		q.cfg.OnQueued(*t)
	}
	q.dispatchPairs(pairs)
	return t, nil
}

// Withdraw removes a user's ticket. Absent tickets are a no-op so that
// disconnect cleanup can call this unconditionally.
func (q *Queue) Withdraw(userID string) {
	q.mu.Lock()
	t, ok := q.byUser[userID]
	if ok {
		q.removeLocked(t)
	}
	q.mu.Unlock()
	if ok {
		obslog.L().Info("mm_withdraw", zap.String("user_id", userID))
	}
}

// Waiting reports how many tickets are queued in the given control.
func (q *Queue) Waiting(tc protocol.TimeControl) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.partitions[partitionKey(tc)])
}

func (q *Queue) loop() {
	defer close(q.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.quit:
			return
		case now := <-ticker.C:
			q.sweep(now)
		}
	}
}

func (q *Queue) sweep(now time.Time) {
	q.mu.Lock()
	expired := q.expireLocked(now)
	pairs := q.collectPairsLocked(now)
	q.mu.Unlock()
	for _, t := range expired {
		obslog.L().Info("mm_timeout",
			zap.String("user_id", t.UserID),
			zap.String("partition", partitionKey(t.Control)))
		if q.cfg.OnTimeout != nil {
			q.cfg.OnTimeout(t)
		}
	}
	q.dispatchPairs(pairs)
}

func (q *Queue) expireLocked(now time.Time) []Ticket {
	var out []Ticket
	for _, list := range q.partitions {
		for _, t := range list {
			if now.Sub(t.EnqueuedAt) >= q.cfg.Timeout {
				out = append(out, *t)
			}
		}
	}
	for _, t := range out {
		q.removeLocked(q.byUser[t.UserID])
	}
	return out
}

func (q *Queue) window(t *Ticket, now time.Time) int {
	steps := int(now.Sub(t.EnqueuedAt) / q.cfg.WidenEvery)
	w := q.cfg.InitialWindow + steps*q.cfg.WidenStep
	if w > q.cfg.MaxWindow {
		w = q.cfg.MaxWindow
	}
	return w
}

// collectPairsLocked greedily pairs the longest-waiting ticket in each
// partition with its closest-rated mutual match, oldest first.
func (q *Queue) collectPairsLocked(now time.Time) []Pair {
	var pairs []Pair
	for key := range q.partitions {
		for {
			list := q.partitions[key]
			if len(list) < 2 {
				break
			}
			sort.SliceStable(list, func(i, j int) bool {
				return list[i].EnqueuedAt.Before(list[j].EnqueuedAt)
			})
			head := list[0]
			best := -1
			bestGap := 0
			for i := 1; i < len(list); i++ {
				cand := list[i]
				gap := head.Rating - cand.Rating
				if gap < 0 {
					gap = -gap
				}
				if gap > q.window(head, now) || gap > q.window(cand, now) {
					continue
				}
				if best == -1 || gap < bestGap {
					best = i
					bestGap = gap
				}
			}
			if best == -1 {
				break
			}
			other := list[best]
			q.removeLocked(head)
			q.removeLocked(other)
			pairs = append(pairs, q.assignColorsLocked(*head, *other))
		}
	}
	return pairs
}

// assignColorsLocked alternates colors for repeat pairings; a first
// meeting is decided by a random byte.
func (q *Queue) assignColorsLocked(a, b Ticket) Pair {
	key := a.UserID + "|" + b.UserID
	if b.UserID < a.UserID {
		key = b.UserID + "|" + a.UserID
	}
	var whiteFirst bool
	if last, ok := q.lastWhite[key]; ok {
		whiteFirst = last != a.UserID
	} else {
		var buf [1]byte
		_, _ = rand.Read(buf[:])
		whiteFirst = buf[0]%2 == 0
	}
	p := Pair{Control: a.Control}
	if whiteFirst {
		p.White, p.Black = a, b
	} else {
		p.White, p.Black = b, a
	}
	q.lastWhite[key] = p.White.UserID
	return p
}

func (q *Queue) removeLocked(t *Ticket) {
	if t == nil {
		return
	}
	key := partitionKey(t.Control)
	list := q.partitions[key]
	for i, cur := range list {
		if cur.ID == t.ID {
			q.partitions[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.partitions[key]) == 0 {
		delete(q.partitions, key)
	}
	delete(q.byUser, t.UserID)
}

func (q *Queue) dispatchPairs(pairs []Pair) {
	for _, p := range pairs {
		obslog.L().Info("mm_pair",
			zap.String("white", p.White.UserID),
			zap.String("black", p.Black.UserID),
			zap.String("control", p.Control.String()))
		if q.cfg.OnPair != nil {
			q.cfg.OnPair(p)
		}
	}
}
