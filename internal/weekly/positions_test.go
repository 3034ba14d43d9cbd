package weekly

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vie-scolaire/carte-api/internal/models"
)

type mcard struct {
	id string
	at time.Time
}

func toCards(studentID string, week, year int, in []mcard) []models.ForgotCard {
	out := make([]models.ForgotCard, 0, len(in))
	for _, c := range in {
		out = append(out, event(c.id, studentID, week, year, c.at))
	}
	return out
}

func TestPositionsAreGaplessAndChronological(t *testing.T) {
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	positions := Positions(toCards("stu-1", 10, 2024, []mcard{
		{"e1", base},
		{"e2", base.Add(time.Hour)},
		{"e3", base.Add(2 * time.Hour)},
	}))

	require.Len(t, positions, 3)
	assert.Equal(t, 1, positions["e1"])
	assert.Equal(t, 2, positions["e2"])
	assert.Equal(t, 3, positions["e3"])
}

func TestPositionsStableUnderPermutation(t *testing.T) {
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	input := []mcard{
		{"a", base.Add(3 * time.Hour)},
		{"b", base},
		{"c", base.Add(time.Hour)},
		{"d", base.Add(2 * time.Hour)},
	}
	expected := Positions(toCards("stu-1", 10, 2024, input))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]mcard(nil), input...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, expected, Positions(toCards("stu-1", 10, 2024, shuffled)))
	}
}

func TestPositionsAppendingLaterEventKeepsEarlierRanks(t *testing.T) {
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	input := []mcard{
		{"e1", base},
		{"e2", base.Add(time.Hour)},
	}
	before := Positions(toCards("stu-1", 10, 2024, input))

	input = append(input, mcard{"e3", base.Add(2 * time.Hour)})
	after := Positions(toCards("stu-1", 10, 2024, input))

	assert.Equal(t, before["e1"], after["e1"])
	assert.Equal(t, before["e2"], after["e2"])
	assert.Equal(t, 3, after["e3"])
}

func TestPositionsTieBrokenByID(t *testing.T) {
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	positions := Positions(toCards("stu-1", 10, 2024, []mcard{
		{"zz", at},
		{"aa", at},
	}))
	assert.Equal(t, 1, positions["aa"])
	assert.Equal(t, 2, positions["zz"])
}

func TestPositionsGroupsAreIndependent(t *testing.T) {
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	cards := toCards("stu-1", 10, 2024, []mcard{{"e1", base}, {"e2", base.Add(time.Hour)}})
	cards = append(cards, toCards("stu-2", 10, 2024, []mcard{{"f1", base.Add(time.Minute)}})...)
	cards = append(cards, toCards("stu-1", 11, 2024, []mcard{{"g1", base.AddDate(0, 0, 7)}})...)

	positions := Positions(cards)
	assert.Equal(t, 1, positions["e1"])
	assert.Equal(t, 2, positions["e2"])
	assert.Equal(t, 1, positions["f1"])
	assert.Equal(t, 1, positions["g1"])
}

func TestPositionsEmptyInput(t *testing.T) {
	assert.Empty(t, Positions(nil))
}
