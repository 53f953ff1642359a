// Memorybox card-matching game
//
// Two players (or more, up to the room's limit) share a board of
// face-down cards, two per symbol. Players take turns flipping two
// cards; a matching pair scores a point and keeps the turn, a miss
// hides both cards again and passes the turn. The last matched pair
// ends the game.
//
// Features:
// - WebSockets per room ID: /memory/:roomid and /memory/:roomid/ws
// - Rooms created on first join, destroyed when the last player leaves
// - Authoritative server-side board; symbols revealed only on flip
// - Deferred pair resolution so both flips stay visible briefly
// - Pause/resume with pause-neutral elapsed time
// - Dropped connections auto-pause the game instead of erroring
// - Random 8-char room IDs via crypto/rand, with collision check
// - Rooms auto-reaped after a configurable idle timeout
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Seednode/memorybox/games/memory"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// sanitizeName strips markup and control characters from a submitted
// display name. An empty result is rejected at the call site rather
// than substituted.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '<' || r == '>' || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Messages coming from clients. The room is implied by the socket's
// URL, so payloads only carry the per-intent fields.
type clientMessage struct {
	Type  string `json:"type"`            // "join-room", "start-game", "flip-card", "pause-game", "resume-game", "leave-room"
	Name  string `json:"name,omitempty"`  // join-room
	Card  int    `json:"card"`            // flip-card
	Grid  int    `json:"grid,omitempty"`  // join-room, applied only when the room is created
	Theme string `json:"theme,omitempty"` // join-room, applied only when the room is created
}

type playerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

type roomInfo struct {
	GridSize   int     `json:"grid_size"`
	Theme      string  `json:"theme"`
	MaxPlayers int     `json:"max_players"`
	TimeLimit  float64 `json:"time_limit,omitempty"` // seconds, 0 = none
}

// RoomJoinedMessage is sent to the joining client only.
type RoomJoinedMessage struct {
	Type    string       `json:"type"` // "room-joined"
	Room    string       `json:"room"`
	You     string       `json:"you"` // the connection's player id
	State   string       `json:"state"`
	Config  roomInfo     `json:"config"`
	Players []playerInfo `json:"players"`
	Themes  []string     `json:"themes"` // selectable symbol sets
}

// PlayerJoinedMessage goes to everyone already in the room.
type PlayerJoinedMessage struct {
	Type   string `json:"type"` // "player-joined"
	Player string `json:"player"`
	Name   string `json:"name"`
}

// GameStartedMessage carries the face-down board: card ids are implied
// by the count, symbols stay server-side until flipped.
type GameStartedMessage struct {
	Type    string `json:"type"` // "game-started"
	Cards   int    `json:"cards"`
	Grid    int    `json:"grid"`
	Current string `json:"current"` // player id holding the first turn
}

type CardFlippedMessage struct {
	Type   string `json:"type"` // "card-flipped"
	Card   int    `json:"card"`
	Symbol string `json:"symbol"`
	Player string `json:"player"`
}

type MatchFoundMessage struct {
	Type         string         `json:"type"` // "match-found"
	Cards        [2]int         `json:"cards"`
	Player       string         `json:"player"`
	Scores       map[string]int `json:"scores"`
	MatchedPairs int            `json:"matched_pairs"`
}

type NoMatchMessage struct {
	Type  string `json:"type"` // "no-match"
	Cards [2]int `json:"cards"`
}

type TurnChangedMessage struct {
	Type   string `json:"type"` // "turn-changed"
	Player string `json:"player"`
}

type GameEndedMessage struct {
	Type     string         `json:"type"` // "game-ended"
	Winner   string         `json:"winner"`
	Scores   map[string]int `json:"scores"`
	Duration float64        `json:"duration"` // seconds, pause-adjusted
	Moves    int            `json:"moves"`
}

type GamePausedMessage struct {
	Type   string `json:"type"` // "game-paused"
	Player string `json:"player"`
	Name   string `json:"name"`
	Reason string `json:"reason"` // "manual" or "disconnect"
}

type GameResumedMessage struct {
	Type   string `json:"type"` // "game-resumed"
	Player string `json:"player"`
}

type PlayerLeftMessage struct {
	Type   string `json:"type"` // "player-left"
	Player string `json:"player"`
	Name   string `json:"name"`
}

type PlayerDisconnectedMessage struct {
	Type   string `json:"type"` // "player-disconnected"
	Player string `json:"player"`
	Name   string `json:"name"`
}

// ErrorMessage is sent only to the client whose intent was rejected.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type client struct {
	conn *websocket.Conn
	send chan any
	id   string // connection id, doubles as player id
	room string // room id from the socket URL

	closed bool // send closed; touched only by the manager goroutine
}

type intent struct {
	client *client
	msg    clientMessage
}

// roomManager runs every room mutation on a single goroutine, so no
// room is ever touched by two events at once. The flip-resolution
// delay is a timer that posts the room id back into the same loop;
// if the room died in the window, the lookup fails and nothing fires.
type roomManager struct {
	cfg      *Config
	registry *memory.Registry

	register chan *client
	unreg    chan *client
	intents  chan intent
	resolves chan string

	clients map[string]map[*client]bool // room id -> connected sockets
}

func newRoomManager(cfg *Config) *roomManager {
	return &roomManager{
		cfg:      cfg,
		registry: memory.NewRegistry(),
		register: make(chan *client),
		unreg:    make(chan *client),
		intents:  make(chan intent),
		resolves: make(chan string),
		clients:  make(map[string]map[*client]bool),
	}
}

func (m *roomManager) run() {
	var reap <-chan time.Time
	if m.cfg.sessionTimeout > 0 {
		ticker := time.NewTicker(m.cfg.sessionTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case c := <-m.register:
			if m.clients[c.room] == nil {
				m.clients[c.room] = make(map[*client]bool)
			}
			m.clients[c.room][c] = true

		case c := <-m.unreg:
			m.handleDisconnect(c)

		case in := <-m.intents:
			m.dispatch(in)

		case roomID := <-m.resolves:
			m.handleResolve(roomID)

		case <-reap:
			m.reap()
		}
	}
}

func (m *roomManager) dispatch(in intent) {
	c, msg := in.client, in.msg

	switch msg.Type {
	case "join-room":
		m.handleJoin(c, msg)
	case "start-game":
		m.handleStart(c)
	case "flip-card":
		m.handleFlip(c, msg.Card)
	case "pause-game":
		m.handlePause(c)
	case "resume-game":
		m.handleResume(c)
	case "leave-room":
		m.handleLeave(c)
	default:
		m.sendTo(c, ErrorMessage{
			Type:    "error",
			Code:    "unknown_event",
			Message: fmt.Sprintf("unknown event type %q", msg.Type),
		})
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, memory.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, memory.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, memory.ErrRoomFull):
		return "room_full"
	case errors.Is(err, memory.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, memory.ErrNotStarted):
		return "not_started"
	case errors.Is(err, memory.ErrGamePaused):
		return "game_paused"
	case errors.Is(err, memory.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, memory.ErrInvalidCard):
		return "invalid_card"
	case errors.Is(err, memory.ErrResolutionPending):
		return "resolution_pending"
	default:
		return "internal_error"
	}
}

func (m *roomManager) fail(c *client, err error) {
	m.sendTo(c, ErrorMessage{
		Type:    "error",
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (m *roomManager) sendTo(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
		m.dropClient(c)
	}
}

func (m *roomManager) broadcast(roomID string, msg any) {
	for c := range m.clients[roomID] {
		select {
		case c.send <- msg:
		default:
			m.dropClient(c)
		}
	}
}

// broadcastOthers sends to every socket in the room except skip.
func (m *roomManager) broadcastOthers(skip *client, msg any) {
	for c := range m.clients[skip.room] {
		if c == skip {
			continue
		}
		select {
		case c.send <- msg:
		default:
			m.dropClient(c)
		}
	}
}

// dropClient removes a socket from its room's broadcast set. The send
// channel stays open: the client may still have intents queued ahead
// of its unreg, and their error replies go through sendTo. Only the
// unreg path closes the channel, once the read loop has stopped.
func (m *roomManager) dropClient(c *client) {
	set, ok := m.clients[c.room]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m.clients, c.room)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (m *roomManager) handleJoin(c *client, msg clientMessage) {
	name := sanitizeName(msg.Name)
	if name == "" {
		m.fail(c, fmt.Errorf("%w: empty player name", memory.ErrInvalidInput))
		return
	}
	if _, ok := m.registry.RoomFor(c.id); ok {
		m.fail(c, fmt.Errorf("%w: already in a room", memory.ErrInvalidInput))
		return
	}

	now := time.Now()
	m.registry.Create(c.room, memory.Config{GridSize: msg.Grid, Theme: msg.Theme}, now)

	room, err := m.registry.Join(c.room, memory.Player{ID: c.id, Name: name, Connected: true})
	if err != nil {
		m.fail(c, err)
		return
	}
	room.Touch(now)

	players := make([]playerInfo, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, playerInfo{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.Connected,
			Score:     room.Scores[p.ID],
		})
	}

	m.sendTo(c, RoomJoinedMessage{
		Type:  "room-joined",
		Room:  room.ID,
		You:   c.id,
		State: string(room.State),
		Config: roomInfo{
			GridSize:   room.Config.GridSize,
			Theme:      room.Config.Theme,
			MaxPlayers: room.Config.MaxPlayers,
			TimeLimit:  room.Config.TimeLimit.Seconds(),
		},
		Players: players,
		Themes:  memory.Themes(),
	})

	m.broadcastOthers(c, PlayerJoinedMessage{
		Type:   "player-joined",
		Player: c.id,
		Name:   name,
	})

	logf(m.cfg, "GAMES: Player %q joined %s", name, room.ID)
}

func (m *roomManager) handleStart(c *client) {
	room, ok := m.registry.Get(c.room)
	if !ok {
		m.fail(c, memory.ErrRoomNotFound)
		return
	}

	now := time.Now()
	res, err := room.Start(c.id, now)
	if err != nil {
		m.fail(c, err)
		return
	}
	room.Touch(now)

	m.broadcast(c.room, GameStartedMessage{
		Type:    "game-started",
		Cards:   res.Cards,
		Grid:    room.Config.GridSize,
		Current: res.Current,
	})

	logf(m.cfg, "GAMES: Game started in %s (%d cards)", room.ID, res.Cards)
}

func (m *roomManager) handleFlip(c *client, card int) {
	room, ok := m.registry.Get(c.room)
	if !ok {
		m.fail(c, memory.ErrRoomNotFound)
		return
	}

	res, err := room.Flip(c.id, card)
	if err != nil {
		m.fail(c, err)
		return
	}
	room.Touch(time.Now())

	m.broadcast(c.room, CardFlippedMessage{
		Type:   "card-flipped",
		Card:   res.Card.ID,
		Symbol: res.Card.Symbol,
		Player: res.Player,
	})

	if res.Pending {
		roomID := c.room
		time.AfterFunc(m.cfg.flipDelay, func() {
			m.resolves <- roomID
		})
	}
}

func (m *roomManager) handleResolve(roomID string) {
	room, ok := m.registry.Get(roomID)
	if !ok {
		// Room destroyed while the timer was pending.
		return
	}

	res := room.Resolve(time.Now())
	if res == nil {
		return
	}

	if res.Matched {
		m.broadcast(roomID, MatchFoundMessage{
			Type:         "match-found",
			Cards:        res.Cards,
			Player:       res.Player,
			Scores:       res.Scores,
			MatchedPairs: res.MatchedPairs,
		})
		if res.Ended != nil {
			m.broadcast(roomID, GameEndedMessage{
				Type:     "game-ended",
				Winner:   res.Ended.Winner,
				Scores:   res.Ended.Scores,
				Duration: res.Ended.Duration.Seconds(),
				Moves:    res.Ended.Moves,
			})
			logf(m.cfg, "GAMES: Game over in %s after %d moves", roomID, res.Ended.Moves)
		}
	} else {
		m.broadcast(roomID, NoMatchMessage{
			Type:  "no-match",
			Cards: res.Cards,
		})
		m.broadcast(roomID, TurnChangedMessage{
			Type:   "turn-changed",
			Player: res.Next,
		})
	}
}

func (m *roomManager) handlePause(c *client) {
	room, ok := m.registry.Get(c.room)
	if !ok {
		m.fail(c, memory.ErrRoomNotFound)
		return
	}

	res, err := room.Pause(c.id, time.Now(), memory.PauseManual)
	if err != nil {
		m.fail(c, err)
		return
	}
	if res == nil {
		// Already paused; not an error.
		return
	}

	m.broadcast(c.room, GamePausedMessage{
		Type:   "game-paused",
		Player: res.Player,
		Name:   m.playerName(room, res.Player),
		Reason: res.Reason,
	})
}

func (m *roomManager) handleResume(c *client) {
	room, ok := m.registry.Get(c.room)
	if !ok {
		m.fail(c, memory.ErrRoomNotFound)
		return
	}

	res, err := room.Resume(c.id, time.Now())
	if err != nil {
		m.fail(c, err)
		return
	}
	if res == nil {
		return
	}

	m.broadcast(c.room, GameResumedMessage{
		Type:   "game-resumed",
		Player: res.Player,
	})
}

func (m *roomManager) handleLeave(c *client) {
	room, ok := m.registry.Get(c.room)
	if !ok {
		return
	}
	name := m.playerName(room, c.id)

	destroyed := m.registry.Leave(c.room, c.id)
	if destroyed {
		m.dropClient(c)
		logf(m.cfg, "GAMES: Room %s destroyed", c.room)
		return
	}

	m.broadcastOthers(c, PlayerLeftMessage{
		Type:   "player-left",
		Player: c.id,
		Name:   name,
	})
	m.dropClient(c)

	logf(m.cfg, "GAMES: Player %q left %s", name, c.room)
}

func (m *roomManager) handleDisconnect(c *client) {
	m.dropClient(c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}

	room, ok := m.registry.RoomFor(c.id)
	m.registry.Drop(c.id)
	if !ok {
		return
	}

	name := m.playerName(room, c.id)
	paused, known := room.Disconnect(c.id, time.Now())
	if !known {
		return
	}

	// Nobody left to resume; connection ids are ephemeral, so a fully
	// disconnected room can never recover.
	if room.ConnectedCount() == 0 {
		m.registry.Destroy(room.ID)
		logf(m.cfg, "GAMES: Room %s abandoned", room.ID)
		return
	}

	m.broadcast(room.ID, PlayerDisconnectedMessage{
		Type:   "player-disconnected",
		Player: c.id,
		Name:   name,
	})

	if paused != nil {
		m.broadcast(room.ID, GamePausedMessage{
			Type:   "game-paused",
			Player: paused.Player,
			Name:   name,
			Reason: paused.Reason,
		})
	}
}

func (m *roomManager) playerName(room *memory.Room, connID string) string {
	for _, p := range room.Players {
		if p.ID == connID {
			return p.Name
		}
	}
	return ""
}

// reap closes out rooms idle longer than the session timeout.
func (m *roomManager) reap() {
	cutoff := time.Now().Add(-m.cfg.sessionTimeout)

	for _, room := range m.registry.Reap(cutoff) {
		// Closing the sockets makes each read loop exit and unreg
		// itself, which is where the send channels get closed.
		for c := range m.clients[room.ID] {
			delete(m.clients[room.ID], c)
			if c.conn != nil {
				_ = c.conn.Close()
			}
		}
		delete(m.clients, room.ID)
		logf(m.cfg, "GAMES: Reaped idle room %s", room.ID)
	}
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with existing rooms.
func (m *roomManager) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := m.registry.Get(id); !exists {
			return id
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket handler that binds the connection to the :roomid room.
func serveMemoryWS(cfg *Config, m *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if !roomIDPattern.MatchString(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: upgrade error: %v", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
			room: roomID,
		}

		m.register <- c

		go c.writePump()
		c.readPump(m)
	}
}

func (c *client) readPump(m *roomManager) {
	defer func() {
		m.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		m.intents <- intent{
			client: c,
			msg:    msg,
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func getMemoryPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/memory/index.html")
		if err != nil {
			http.Error(w, "missing page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// redirectNewRoom handles GET /path by generating a new random room ID
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, m *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := m.newRoomID()
		logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path                  → redirects to a new random room (8-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
func registerMemoryGame(cfg *Config, path string, mux *httprouter.Router) {
	m := newRoomManager(cfg)
	go m.run()

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, m))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", getMemoryPage(cfg))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveMemoryWS(cfg, m))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
