package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoster(t *testing.T) {
	r, err := NewRoster([]string{"cam_0", "cam_1", "cam_2"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, Camera{ID: "cam_1", Handle: 1}, r.At(1))

	cam, err := r.Lookup("cam_2")
	require.NoError(t, err)
	assert.Equal(t, 2, cam.Handle)

	_, err = r.Lookup("cam_9")
	assert.ErrorIs(t, err, ErrCameraNotFound)

	cams := r.Cameras()
	cams[0].ID = "changed"
	assert.Equal(t, "cam_0", r.At(0).ID)
}

func TestRosterRejectsBadIDs(t *testing.T) {
	_, err := NewRoster([]string{"cam_0", "cam_0"})
	assert.Error(t, err)

	_, err = NewRoster([]string{""})
	assert.Error(t, err)
}

func TestArena(t *testing.T) {
	built := 0
	a := NewArena(func() *int {
		built++
		v := 0
		return &v
	})

	*a.Get(2)++
	*a.Get(2)++
	assert.Equal(t, 2, *a.Get(2))
	assert.Equal(t, 0, *a.Get(0))
	assert.Equal(t, 3, built)

	a.Reserve(5)
	assert.Equal(t, 5, built)
}
