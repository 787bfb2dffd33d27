package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressMonotonic(t *testing.T) {
	progress := NewProgress(10)

	progress.Update(3, "")
	assert.Equal(t, 3, progress.Snapshot().Completed)

	// stale and duplicate reports never regress the count
	progress.Update(1, "")
	assert.Equal(t, 3, progress.Snapshot().Completed)
	progress.Update(3, "")
	assert.Equal(t, 3, progress.Snapshot().Completed)

	progress.Update(7, "")
	assert.Equal(t, 7, progress.Snapshot().Completed)

	// never exceeds the total
	progress.Update(50, "")
	assert.Equal(t, 10, progress.Snapshot().Completed)
}

func TestProgressAdvanceClamped(t *testing.T) {
	progress := NewProgress(3)

	progress.Advance(2)
	assert.Equal(t, 2, progress.Snapshot().Completed)
	assert.False(t, progress.Done())

	progress.Advance(2)
	assert.Equal(t, 3, progress.Snapshot().Completed)
	assert.True(t, progress.Done())
}

func TestProgressInFlight(t *testing.T) {
	progress := NewProgress(4)

	progress.MarkInFlight("2024-03-01", "2024-03-02")
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, progress.Snapshot().InFlight)

	// an update naming a date removes it from the display set
	progress.Update(1, "2024-03-01")
	assert.Equal(t, []string{"2024-03-02"}, progress.Snapshot().InFlight)

	// the server-reported set replaces the display set wholesale
	progress.SetInFlight([]string{"2024-03-03", "2024-03-04"})
	assert.Equal(t, []string{"2024-03-03", "2024-03-04"}, progress.Snapshot().InFlight)

	progress.ClearInFlight()
	assert.Empty(t, progress.Snapshot().InFlight)
}

func TestProgressSettle(t *testing.T) {
	progress := NewProgress(4)
	progress.MarkInFlight("2024-03-01", "2024-03-02")

	// one of the two wave members was parked for selection, only one counts
	progress.Settle([]string{"2024-03-01", "2024-03-02"}, 1)

	snapshot := progress.Snapshot()
	assert.Equal(t, 1, snapshot.Completed)
	assert.Empty(t, snapshot.InFlight)
}
