package diary

import (
	"sort"

	"github.com/alexjbarnes/diary-sync/internal/models"
)

// MonthMoods aggregates the moods recorded in one calendar month.
type MonthMoods struct {
	Month    string         `json:"month"` // YYYY-MM
	Entries  int            `json:"entries"`
	Moods    map[string]int `json:"moods"`
	Comments int            `json:"comments"`
}

// MoodReport groups entries by month, oldest first. Entries without a
// mood count toward Entries only.
func MoodReport(entries []models.Entry) []MonthMoods {
	byMonth := make(map[string]*MonthMoods)

	for _, e := range entries {
		if len(e.Date) < len("2006-01") {
			continue
		}
		month := e.Date[:len("2006-01")]

		m, ok := byMonth[month]
		if !ok {
			m = &MonthMoods{Month: month, Moods: make(map[string]int)}
			byMonth[month] = m
		}

		m.Entries++
		if mood := models.Deref(e.Mood); mood != "" {
			m.Moods[mood]++
		}
		if e.HasComment() {
			m.Comments++
		}
	}

	out := make([]MonthMoods, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })

	return out
}

// TopMood returns the most frequent mood of a month, breaking ties
// alphabetically, or "" when none was recorded.
func (m MonthMoods) TopMood() string {
	var (
		top   string
		count int
	)
	for mood, n := range m.Moods {
		if n > count || (n == count && mood < top) {
			top, count = mood, n
		}
	}
	return top
}
