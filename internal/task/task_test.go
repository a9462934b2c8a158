package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTask_Due_NilDelay(t *testing.T) {
	tk := &Task{Name: "add"}
	assert.True(t, tk.Due())
}

func TestTask_Due_NonPositiveDelay(t *testing.T) {
	zero := 0.0
	negative := -1.5
	assert.True(t, (&Task{Delay: &zero}).Due())
	assert.True(t, (&Task{Delay: &negative}).Due())
}

func TestTask_Due_PositiveDelay(t *testing.T) {
	future := 30.0
	assert.False(t, (&Task{Delay: &future}).Due())
}

func TestTask_Fields(t *testing.T) {
	when := time.Now().UTC()
	tk := &Task{
		CTID:     "(0,1)",
		ID:       42,
		Schedule: &when,
		Name:     "slow",
		Params:   []byte{1, 2, 3},
	}
	assert.Equal(t, "(0,1)", tk.CTID)
	assert.EqualValues(t, 42, tk.ID)
	assert.Equal(t, "slow", tk.Name)
}
