/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoom(t *testing.T, players ...string) *Room {
	t.Helper()

	room := newRoom("test", Config{GridSize: 4, Theme: "animals", MaxPlayers: len(players) + 1}, time.Now())
	for _, id := range players {
		room.Players = append(room.Players, Player{ID: id, Name: id, Connected: true})
		room.Scores[id] = 0
	}
	return room
}

// setBoard replaces the generated board with a deterministic one, one
// card per symbol in symbols.
func setBoard(room *Room, symbols ...string) {
	board := make([]Card, len(symbols))
	for i, symbol := range symbols {
		board[i] = Card{ID: i, Symbol: symbol}
	}
	room.Board = board
}

func TestStart(t *testing.T) {
	room := testRoom(t, "p1", "p2")

	res, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 16, res.Cards)
	assert.Equal(t, "p1", res.Current)
	assert.Equal(t, StatePlaying, room.State)
	assert.Equal(t, 0, room.CurrentPlayer)
	assert.Zero(t, room.MoveCount)

	// Starting an already-running game is rejected.
	_, err = room.Start("p2", time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Only members may start.
	room = testRoom(t, "p1")
	_, err = room.Start("stranger", time.Now())
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestFlipPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(room *Room)
		conn    string
		card    int
		wantErr error
	}{
		{
			name:    "not started",
			setup:   func(room *Room) { room.State = StateLobby },
			conn:    "p1",
			card:    0,
			wantErr: ErrNotStarted,
		},
		{
			name: "paused",
			setup: func(room *Room) {
				_, err := room.Pause("p2", time.Now(), PauseManual)
				require.NoError(t, err)
			},
			conn:    "p1",
			card:    0,
			wantErr: ErrGamePaused,
		},
		{
			name:    "not your turn",
			setup:   func(room *Room) {},
			conn:    "p2",
			card:    0,
			wantErr: ErrNotYourTurn,
		},
		{
			name:    "card id out of range",
			setup:   func(room *Room) {},
			conn:    "p1",
			card:    99,
			wantErr: ErrInvalidCard,
		},
		{
			name: "card already flipped",
			setup: func(room *Room) {
				_, err := room.Flip("p1", 0)
				require.NoError(t, err)
			},
			conn:    "p1",
			card:    0,
			wantErr: ErrInvalidCard,
		},
		{
			name: "card already matched",
			setup: func(room *Room) {
				room.Board[0].Matched = true
			},
			conn:    "p1",
			card:    0,
			wantErr: ErrInvalidCard,
		},
		{
			name: "pair pending resolution",
			setup: func(room *Room) {
				for _, card := range []int{0, 1} {
					_, err := room.Flip("p1", card)
					require.NoError(t, err)
				}
			},
			conn:    "p1",
			card:    2,
			wantErr: ErrResolutionPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := testRoom(t, "p1", "p2")
			_, err := room.Start("p1", time.Now())
			require.NoError(t, err)
			setBoard(room, "a", "b", "a", "b")

			tt.setup(room)

			_, err = room.Flip(tt.conn, tt.card)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMatchImmediatelyEndsMinimalGame(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "a")

	first, err := room.Flip("p1", 0)
	require.NoError(t, err)
	assert.False(t, first.Pending)
	assert.Equal(t, "a", first.Card.Symbol)

	second, err := room.Flip("p1", 1)
	require.NoError(t, err)
	assert.True(t, second.Pending)

	res := room.Resolve(time.Now())
	require.NotNil(t, res)
	assert.True(t, res.Matched)
	assert.Equal(t, "p1", res.Player)
	assert.Equal(t, 1, res.Scores["p1"])
	assert.Equal(t, 0, res.Scores["p2"])

	require.NotNil(t, res.Ended)
	assert.Equal(t, "p1", res.Ended.Winner)
	assert.Equal(t, 1, res.Ended.Moves)
	assert.Equal(t, StateEnded, room.State)
}

func TestNoMatchAdvancesTurn(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "b", "a", "b")

	for _, card := range []int{0, 1} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}

	res := room.Resolve(time.Now())
	require.NotNil(t, res)
	assert.False(t, res.Matched)
	assert.Equal(t, "p2", res.Next)
	assert.Nil(t, res.Ended)

	assert.False(t, room.Board[0].Flipped)
	assert.False(t, room.Board[1].Flipped)
	assert.Equal(t, 1, room.CurrentPlayer)
	assert.Equal(t, 1, room.MoveCount)
	assert.Equal(t, 0, room.Scores["p1"])
	assert.Equal(t, 0, room.Scores["p2"])
}

func TestMatchKeepsTurn(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "a", "b", "b")

	for _, card := range []int{0, 1} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}

	res := room.Resolve(time.Now())
	require.NotNil(t, res)
	assert.True(t, res.Matched)
	assert.Nil(t, res.Ended)
	assert.Equal(t, "p1", res.Next)
	assert.Equal(t, 0, room.CurrentPlayer)
	assert.Equal(t, 1, room.MatchedPairs)

	// Same player continues and finishes the board.
	for _, card := range []int{2, 3} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}
	res = room.Resolve(time.Now())
	require.NotNil(t, res)
	require.NotNil(t, res.Ended)
	assert.Equal(t, "p1", res.Ended.Winner)
	assert.Equal(t, 2, res.Ended.Moves)
}

func TestResolveExactlyOnce(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "b", "a", "b")

	// Nothing pending yet.
	assert.Nil(t, room.Resolve(time.Now()))

	for _, card := range []int{0, 1} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}

	require.NotNil(t, room.Resolve(time.Now()))
	assert.Nil(t, room.Resolve(time.Now()))
	assert.Equal(t, 1, room.MoveCount)
}

func TestResolveWhilePaused(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "a")

	for _, card := range []int{0, 1} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}

	// A pause in the resolution window delays nothing: the committed
	// pair still resolves and updates authoritative state.
	_, err = room.Pause("p2", time.Now(), PauseManual)
	require.NoError(t, err)

	res := room.Resolve(time.Now())
	require.NotNil(t, res)
	assert.True(t, res.Matched)
	assert.Equal(t, 1, room.Scores["p1"])
}

func TestPauseResume(t *testing.T) {
	room := testRoom(t, "p1", "p2")

	// Pausing before start is rejected.
	_, err := room.Pause("p1", time.Now(), PauseManual)
	assert.ErrorIs(t, err, ErrNotStarted)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err = room.Start("p1", start)
	require.NoError(t, err)

	pausedAt := start.Add(10 * time.Second)
	res, err := room.Pause("p2", pausedAt, PauseManual)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "p2", res.Player)
	assert.Equal(t, StatePaused, room.State)
	assert.Equal(t, "p2", room.PausedBy)

	// Second pause is a no-op and leaves PausedAt untouched.
	res, err = room.Pause("p1", pausedAt.Add(5*time.Second), PauseManual)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, pausedAt, room.PausedAt)

	// Resume shifts StartTime forward by the pause duration so
	// elapsed time excludes it.
	resumedAt := pausedAt.Add(30 * time.Second)
	resumed, err := room.Resume("p1", resumedAt)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, StatePlaying, room.State)
	assert.Empty(t, room.PausedBy)
	assert.Equal(t, start.Add(30*time.Second), room.StartTime)
	assert.Equal(t, 10*time.Second, resumedAt.Sub(room.StartTime))

	// Resume when not paused is a no-op.
	resumed, err = room.Resume("p1", resumedAt)
	require.NoError(t, err)
	assert.Nil(t, resumed)
}

func TestDisconnectAutoPauses(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "b", "a", "b")

	paused, known := room.Disconnect("p2", time.Now())
	require.True(t, known)
	require.NotNil(t, paused)
	assert.Equal(t, "p2", paused.Player)
	assert.Equal(t, PauseDisconnect, paused.Reason)
	assert.Equal(t, StatePaused, room.State)
	assert.Equal(t, "p2", room.PausedBy)
	assert.False(t, room.Players[1].Connected)
	assert.Len(t, room.Players, 2)

	// Flips are rejected until someone resumes.
	_, err = room.Flip("p1", 0)
	assert.ErrorIs(t, err, ErrGamePaused)

	_, err = room.Resume("p1", time.Now())
	require.NoError(t, err)
	_, err = room.Flip("p1", 0)
	assert.NoError(t, err)

	// Disconnecting the other player pauses again, attributed to them.
	paused, known = room.Disconnect("p1", time.Now())
	require.True(t, known)
	require.NotNil(t, paused)
	assert.Equal(t, "p1", room.PausedBy)

	// Unknown connections are ignored.
	_, known = room.Disconnect("stranger", time.Now())
	assert.False(t, known)
}

func TestRemoveCurrentPlayerPassesTurn(t *testing.T) {
	room := testRoom(t, "p1", "p2", "p3")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)

	// p2 holds the turn and leaves; the turn lands on p3.
	room.CurrentPlayer = 1
	room.removeAt(1)
	assert.Equal(t, "p3", room.Players[room.CurrentPlayer].ID)
	assert.NotContains(t, room.Scores, "p2")

	// A departure before the current player shifts the index down so
	// the turn holder is unchanged.
	room.CurrentPlayer = 1 // p3
	room.removeAt(0)
	assert.Equal(t, "p3", room.Players[room.CurrentPlayer].ID)

	// Last player leaving at the end of the order wraps to the front.
	room = testRoom(t, "p1", "p2")
	_, err = room.Start("p1", time.Now())
	require.NoError(t, err)
	room.CurrentPlayer = 1
	room.removeAt(1)
	assert.Equal(t, 0, room.CurrentPlayer)
}

func TestLeaveWithPendingPairDiscardsIt(t *testing.T) {
	reg := NewRegistry()
	reg.Create("alpha", Config{MaxPlayers: 2}, time.Now())
	for _, id := range []string{"p1", "p2"} {
		_, err := reg.Join("alpha", Player{ID: id, Name: id, Connected: true})
		require.NoError(t, err)
	}

	room, ok := reg.Get("alpha")
	require.True(t, ok)
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "b", "a", "b")

	// p1 reveals a matching pair, then leaves before it resolves.
	for _, card := range []int{0, 2} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}
	assert.False(t, reg.Leave("alpha", "p1"))

	// The pending pair is discarded: cards hidden again, nothing to
	// resolve, and no score entry survives for the departed player.
	assert.False(t, room.Board[0].Flipped)
	assert.False(t, room.Board[2].Flipped)
	assert.Nil(t, room.Resolve(time.Now()))
	assert.NotContains(t, room.Scores, "p1")
	for id := range room.Scores {
		assert.GreaterOrEqualf(t, room.playerIndex(id), 0, "score entry %q has no player", id)
	}

	// The remaining player holds the turn and can play on.
	_, err = room.Flip("p2", 1)
	require.NoError(t, err)
}

func TestWinnerTieBreak(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	room.Scores["p1"] = 2
	room.Scores["p2"] = 2
	assert.Equal(t, "p1", room.winner())

	room.Scores["p2"] = 3
	assert.Equal(t, "p2", room.winner())
}

func TestRestartFromEnded(t *testing.T) {
	room := testRoom(t, "p1", "p2")
	_, err := room.Start("p1", time.Now())
	require.NoError(t, err)
	setBoard(room, "a", "a")

	for _, card := range []int{0, 1} {
		_, err := room.Flip("p1", card)
		require.NoError(t, err)
	}
	res := room.Resolve(time.Now())
	require.NotNil(t, res.Ended)

	// A finished room can be restarted with a fresh board and reset
	// counters.
	restarted, err := room.Start("p2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 16, restarted.Cards)
	assert.Equal(t, StatePlaying, room.State)
	assert.Zero(t, room.MoveCount)
	assert.Zero(t, room.MatchedPairs)
	assert.Equal(t, 0, room.Scores["p1"])
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero value",
			in:   Config{},
			want: Config{GridSize: 4, Theme: "animals", MaxPlayers: 2},
		},
		{
			name: "odd grid rejected",
			in:   Config{GridSize: 3, Theme: "fruits", MaxPlayers: 4},
			want: Config{GridSize: 4, Theme: "fruits", MaxPlayers: 4},
		},
		{
			name: "valid config kept",
			in:   Config{GridSize: 6, Theme: "shapes", MaxPlayers: 3, TimeLimit: time.Minute},
			want: Config{GridSize: 6, Theme: "shapes", MaxPlayers: 3, TimeLimit: time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}
