package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBar_Counts(t *testing.T) {
	var out bytes.Buffer
	b := New(Options{Description: "scan", Writer: &out})

	b.Increment()
	b.Increment()
	b.IncrementFailed()
	b.Describe("/downloads/a.jpg")
	b.Finish()

	processed, failed := b.Stats()
	assert.Equal(t, int64(2), processed)
	assert.Equal(t, int64(1), failed)
	assert.NotEmpty(t, out.String())
}

func TestBar_Disabled(t *testing.T) {
	b := New(Options{Disabled: true})

	b.Increment()
	b.Finish()

	processed, _ := b.Stats()
	assert.Equal(t, int64(1), processed)
}
