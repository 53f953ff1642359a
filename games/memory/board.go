/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"math/rand/v2"
	"strconv"
)

// DefaultTheme is used whenever a requested theme is unknown or too
// small for the requested board. Its symbol set is unbounded.
const DefaultTheme = "numbers"

var themes = map[string][]string{
	"animals": {
		"🐶", "🐱", "🐭", "🐹", "🐰", "🦊", "🐻", "🐼",
		"🐨", "🐯", "🦁", "🐮", "🐷", "🐸", "🐵", "🐔",
		"🐧", "🦉", "🦄", "🐢", "🐙", "🦀", "🐬", "🦋",
	},
	"fruits": {
		"🍎", "🍐", "🍊", "🍋", "🍌", "🍉", "🍇", "🍓",
		"🫐", "🍒", "🍑", "🥭", "🍍", "🥝", "🍈", "🥥",
		"🍅", "🥑",
	},
	"shapes": {
		"●", "■", "▲", "◆", "★", "♥", "♠", "♣",
		"☾", "☀", "✚", "☁", "⬟", "⬢", "☂", "♪",
	},
}

// Themes lists the selectable symbol sets.
func Themes() []string {
	names := make([]string, 0, len(themes)+1)
	for name := range themes {
		names = append(names, name)
	}
	names = append(names, DefaultTheme)
	return names
}

// themeSymbols returns pairs distinct symbols from the named theme,
// falling back to the default numbers theme when the requested theme
// is unknown or has too few symbols for the board.
func themeSymbols(theme string, pairs int) []string {
	if set, ok := themes[theme]; ok && len(set) >= pairs {
		return set[:pairs]
	}

	symbols := make([]string, pairs)
	for i := range symbols {
		symbols[i] = strconv.Itoa(i + 1)
	}
	return symbols
}

// GenerateBoard builds a shuffled board of gridSize² cards, two per
// symbol. Card IDs are assigned after the shuffle, so they are stable
// position indices for the lifetime of the game.
func GenerateBoard(gridSize int, theme string) []Card {
	pairs := gridSize * gridSize / 2
	symbols := themeSymbols(theme, pairs)

	cards := make([]Card, 0, pairs*2)
	for _, symbol := range symbols {
		cards = append(cards, Card{Symbol: symbol}, Card{Symbol: symbol})
	}

	// Fisher-Yates; rand.IntN is uniform, so every permutation is
	// equally likely.
	for i := len(cards) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}

	for i := range cards {
		cards[i].ID = i
	}

	return cards
}
