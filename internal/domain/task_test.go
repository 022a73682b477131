package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskState(t *testing.T) {
	tests := []struct {
		state    TaskState
		valid    bool
		terminal bool
		live     bool
	}{
		{TaskStatePending, true, false, true},
		{TaskStateInProgress, true, false, true},
		{TaskStateCompleted, true, true, false},
		{TaskStateFailed, true, true, false},
		{TaskState("paused"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.state.Valid())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
			assert.Equal(t, tt.live, tt.state.Live())
		})
	}
}

func TestQueueTask_CloneIsDeep(t *testing.T) {
	orig := &QueueTask{ID: 7, URL: "https://x/a.jpg", Metadata: map[string]string{"source": "pics"}}

	c := orig.Clone()
	c.Metadata["source"] = "other"
	c.State = TaskStateCompleted

	assert.Equal(t, "pics", orig.Metadata["source"])
	assert.Equal(t, TaskState(""), orig.State)
	assert.Nil(t, (*QueueTask)(nil).Clone())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, MediaVideo, KindOf("/dl/clip.MP4"))
	assert.Equal(t, MediaImage, KindOf("photo.jpeg"))
	assert.Equal(t, MediaOther, KindOf("notes.txt"))
	assert.Equal(t, MediaOther, KindOf("noext"))
}
