/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package memory implements the authoritative state for the memorybox
// card-matching game: shuffled pair boards, room membership, turn
// order, and the flip/resolve cycle. It performs no I/O; the websocket
// gateway calls into it from a single goroutine and broadcasts the
// results it returns.
package memory

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrNotInRoom         = errors.New("player not in room")
	ErrNotStarted        = errors.New("game not started")
	ErrGamePaused        = errors.New("game is paused")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrInvalidCard       = errors.New("invalid card selection")
	ErrResolutionPending = errors.New("two cards are pending resolution")
)

// State is the room lifecycle phase. Transitions not listed for the
// current state are rejected rather than inferred from flags.
//
//	lobby → playing ⇄ paused
//	playing → ended → playing (restart)
type State string

const (
	StateLobby   State = "lobby"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// Pause reasons carried in game-paused broadcasts.
const (
	PauseManual     = "manual"
	PauseDisconnect = "disconnect"
)

// Card is one tile on the board. Exactly two cards share each symbol.
// The symbol is always present server-side; withholding it from
// face-down views is the gateway's concern.
type Card struct {
	ID      int    `json:"id"`
	Symbol  string `json:"symbol"`
	Matched bool   `json:"matched"`
	Flipped bool   `json:"flipped"`
}

// Player identity is the owning connection's identifier for the
// lifetime of the room.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// Config holds per-room settings, merged with defaults at creation.
type Config struct {
	GridSize   int           `json:"gridSize"`
	Theme      string        `json:"theme"`
	MaxPlayers int           `json:"maxPlayers"`
	TimeLimit  time.Duration `json:"timeLimit,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.GridSize < 2 || c.GridSize%2 != 0 {
		c.GridSize = 4
	}
	if c.Theme == "" {
		c.Theme = "animals"
	}
	if c.MaxPlayers < 2 {
		c.MaxPlayers = 2
	}
	return c
}

// Room is one multiplayer session. All mutation happens on the
// gateway's event loop; Room itself holds no lock.
type Room struct {
	ID     string
	Config Config
	State  State

	Players []Player // turn order = join order
	Board   []Card
	Scores  map[string]int

	CurrentPlayer int // index into Players, valid once started
	MoveCount     int // one per resolved pair, never per single flip
	MatchedPairs  int
	StartTime     time.Time // adjusted forward by pause durations

	PausedBy    string
	PausedAt    time.Time
	PauseReason string

	revealed   []int  // board indices of face-up unmatched cards, max 2
	revealedBy string // who flipped the pending pair
	resolving  bool   // set when the second card goes up, cleared by Resolve
	lastActive time.Time
}

func newRoom(id string, cfg Config, now time.Time) *Room {
	return &Room{
		ID:         id,
		Config:     cfg.withDefaults(),
		State:      StateLobby,
		Scores:     make(map[string]int),
		lastActive: now,
	}
}

func (r *Room) started() bool {
	return r.State == StatePlaying || r.State == StatePaused
}

func (r *Room) playerIndex(connID string) int {
	for i := range r.Players {
		if r.Players[i].ID == connID {
			return i
		}
	}
	return -1
}

// Touch records activity for idle reaping.
func (r *Room) Touch(now time.Time) {
	r.lastActive = now
}

// IdleSince reports whether the room has seen no activity since cutoff.
func (r *Room) IdleSince(cutoff time.Time) bool {
	return r.lastActive.Before(cutoff)
}

// StartResult describes a freshly started game. Cards is the board
// size; symbols stay server-side until individual cards are flipped.
type StartResult struct {
	Cards   int
	Current string
}

// Start begins (or, from ended, restarts) the game. Only room members
// may start. The board is regenerated and all counters reset.
func (r *Room) Start(connID string, now time.Time) (*StartResult, error) {
	if r.playerIndex(connID) < 0 {
		return nil, ErrNotInRoom
	}
	if r.State != StateLobby && r.State != StateEnded {
		return nil, ErrInvalidInput
	}

	r.Board = GenerateBoard(r.Config.GridSize, r.Config.Theme)
	r.State = StatePlaying
	r.StartTime = now
	r.CurrentPlayer = 0
	r.MoveCount = 0
	r.MatchedPairs = 0
	r.revealed = nil
	r.revealedBy = ""
	r.resolving = false
	for id := range r.Scores {
		r.Scores[id] = 0
	}

	return &StartResult{
		Cards:   len(r.Board),
		Current: r.Players[r.CurrentPlayer].ID,
	}, nil
}

// FlipResult is the immediate outcome of one accepted flip. Pending is
// true when this was the second card of a pair and a resolution should
// be scheduled.
type FlipResult struct {
	Card    Card
	Player  string
	Pending bool
}

// Flip reveals one card for the acting connection. Preconditions are
// checked in order, each with its own rejection: game started, not
// paused, no pair pending resolution, acting player's turn, card valid.
func (r *Room) Flip(connID string, cardID int) (*FlipResult, error) {
	if !r.started() {
		return nil, ErrNotStarted
	}
	if r.State == StatePaused {
		return nil, ErrGamePaused
	}
	if r.resolving {
		return nil, ErrResolutionPending
	}
	if r.Players[r.CurrentPlayer].ID != connID {
		return nil, ErrNotYourTurn
	}
	if cardID < 0 || cardID >= len(r.Board) {
		return nil, ErrInvalidCard
	}
	card := &r.Board[cardID]
	if card.Matched || card.Flipped {
		return nil, ErrInvalidCard
	}

	card.Flipped = true
	r.revealed = append(r.revealed, cardID)
	r.revealedBy = connID
	if len(r.revealed) == 2 {
		r.resolving = true
	}

	return &FlipResult{
		Card:    *card,
		Player:  connID,
		Pending: r.resolving,
	}, nil
}

// GameSummary is broadcast when the last pair is matched.
type GameSummary struct {
	Winner   string
	Scores   map[string]int
	Duration time.Duration
	Moves    int
}

// ResolveResult describes one resolved pair.
type ResolveResult struct {
	Matched      bool
	Cards        [2]int
	Player       string
	Scores       map[string]int
	MatchedPairs int
	Next         string       // current player after resolution
	Ended        *GameSummary // non-nil when the board is complete
}

// Resolve evaluates the pending pair. It runs at most once per pair:
// if nothing is pending it returns nil and touches no state, so a
// delayed callback firing against an already-reset room is harmless.
// Resolution deliberately ignores the paused flag; pause gates new
// flips, not flips already committed.
func (r *Room) Resolve(now time.Time) *ResolveResult {
	if !r.resolving || len(r.revealed) != 2 {
		return nil
	}

	first, second := &r.Board[r.revealed[0]], &r.Board[r.revealed[1]]
	result := &ResolveResult{
		Matched: first.Symbol == second.Symbol,
		Cards:   [2]int{first.ID, second.ID},
		Player:  r.revealedBy,
	}

	if result.Matched {
		first.Matched = true
		second.Matched = true
		r.Scores[r.revealedBy]++
		r.MatchedPairs++
		// The matching player keeps the turn.
	} else {
		first.Flipped = false
		second.Flipped = false
		r.CurrentPlayer = (r.CurrentPlayer + 1) % len(r.Players)
	}

	r.revealed = nil
	r.revealedBy = ""
	r.resolving = false
	r.MoveCount++

	result.Scores = r.scoreboard()
	result.MatchedPairs = r.MatchedPairs
	result.Next = r.Players[r.CurrentPlayer].ID

	if r.MatchedPairs*2 == len(r.Board) {
		r.State = StateEnded
		result.Ended = &GameSummary{
			Winner:   r.winner(),
			Scores:   result.Scores,
			Duration: now.Sub(r.StartTime),
			Moves:    r.MoveCount,
		}
	}

	return result
}

// winner is the highest scorer; ties go to the earliest player in turn
// order among the max scorers.
func (r *Room) winner() string {
	winner := ""
	best := -1
	for _, p := range r.Players {
		if r.Scores[p.ID] > best {
			best = r.Scores[p.ID]
			winner = p.ID
		}
	}
	return winner
}

func (r *Room) scoreboard() map[string]int {
	scores := make(map[string]int, len(r.Scores))
	for id, score := range r.Scores {
		scores[id] = score
	}
	return scores
}

// PauseResult identifies who paused and why.
type PauseResult struct {
	Player string
	Reason string
}

// Pause suspends play. Any member may pause; pausing an already-paused
// room is a no-op (nil result, no error) and leaves PausedAt untouched.
func (r *Room) Pause(connID string, now time.Time, reason string) (*PauseResult, error) {
	if r.playerIndex(connID) < 0 {
		return nil, ErrNotInRoom
	}
	if !r.started() {
		return nil, ErrNotStarted
	}
	if r.State == StatePaused {
		return nil, nil
	}

	r.State = StatePaused
	r.PausedBy = connID
	r.PausedAt = now
	r.PauseReason = reason

	return &PauseResult{Player: connID, Reason: reason}, nil
}

// ResumeResult identifies who resumed.
type ResumeResult struct {
	Player string
}

// Resume returns a paused room to play, shifting StartTime forward by
// the pause duration so elapsed-time math stays pause-neutral.
// Resuming a room that is not paused is a no-op.
func (r *Room) Resume(connID string, now time.Time) (*ResumeResult, error) {
	if r.playerIndex(connID) < 0 {
		return nil, ErrNotInRoom
	}
	if !r.started() {
		return nil, ErrNotStarted
	}
	if r.State != StatePaused {
		return nil, nil
	}

	r.StartTime = r.StartTime.Add(now.Sub(r.PausedAt))
	r.State = StatePlaying
	r.PausedBy = ""
	r.PausedAt = time.Time{}
	r.PauseReason = ""

	return &ResumeResult{Player: connID}, nil
}

// Disconnect marks the player as disconnected without removing them,
// so the room can wait for a reconnection. A running game auto-pauses,
// attributed to the dropped player. Returns the pause result, if any.
func (r *Room) Disconnect(connID string, now time.Time) (*PauseResult, bool) {
	i := r.playerIndex(connID)
	if i < 0 {
		return nil, false
	}
	r.Players[i].Connected = false

	if r.State != StatePlaying {
		return nil, true
	}

	r.State = StatePaused
	r.PausedBy = connID
	r.PausedAt = now
	r.PauseReason = PauseDisconnect

	return &PauseResult{Player: connID, Reason: PauseDisconnect}, true
}

// ConnectedCount reports how many players still have a live connection.
func (r *Room) ConnectedCount() int {
	count := 0
	for i := range r.Players {
		if r.Players[i].Connected {
			count++
		}
	}
	return count
}

// removeAt drops the player at index i. If the departing player held
// the turn, the index lands on the next player in join order (modulo
// the shrunken list); earlier departures shift the index down so the
// current player keeps the turn.
func (r *Room) removeAt(i int) {
	id := r.Players[i].ID
	delete(r.Scores, id)
	r.Players = append(r.Players[:i], r.Players[i+1:]...)

	// Cards the departing player left face-up can never resolve to a
	// valid score entry; hide them and forget the pending pair so the
	// scores map only ever holds current players.
	if r.revealedBy == id {
		for _, ci := range r.revealed {
			r.Board[ci].Flipped = false
		}
		r.revealed = nil
		r.revealedBy = ""
		r.resolving = false
	}

	if len(r.Players) == 0 {
		return
	}
	if i < r.CurrentPlayer {
		r.CurrentPlayer--
	}
	r.CurrentPlayer %= len(r.Players)
}
