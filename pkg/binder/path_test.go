package binder_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/binder"
)

func TestPath(t *testing.T) {
	t.Parallel()

	type request struct {
		Job      string    `path:"job"`
		UserID   uuid.UUID `path:"user_id"`
		Limit    int       `path:"limit"`
		Dry      *bool     `path:"dry"`
		Internal string    `path:"-"`
	}

	params := func(values map[string]string) func(*http.Request, string) string {
		return func(_ *http.Request, name string) string { return values[name] }
	}
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	t.Run("binds tagged fields", func(t *testing.T) {
		t.Parallel()
		userID := uuid.New()
		var v request
		err := binder.Path(params(map[string]string{
			"job":      "expire-trials",
			"user_id":  userID.String(),
			"limit":    "10",
			"dry":      "true",
			"Internal": "ignored",
		}))(r, &v)
		require.NoError(t, err)
		assert.Equal(t, "expire-trials", v.Job)
		assert.Equal(t, userID, v.UserID)
		assert.Equal(t, 10, v.Limit)
		require.NotNil(t, v.Dry)
		assert.True(t, *v.Dry)
		assert.Empty(t, v.Internal)
	})

	t.Run("missing params keep zero values", func(t *testing.T) {
		t.Parallel()
		var v request
		require.NoError(t, binder.Path(params(nil))(r, &v))
		assert.Empty(t, v.Job)
		assert.Nil(t, v.Dry)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		var v request
		assert.ErrorIs(t, binder.Path(params(map[string]string{"limit": "ten"}))(r, &v), binder.ErrInvalidPath)
		assert.ErrorIs(t, binder.Path(params(map[string]string{"user_id": "x"}))(r, &v), binder.ErrInvalidPath)
	})

	t.Run("invalid target", func(t *testing.T) {
		t.Parallel()
		var s string
		assert.ErrorIs(t, binder.Path(params(nil))(r, &s), binder.ErrInvalidPath)
		assert.ErrorIs(t, binder.Path(nil)(r, &request{}), binder.ErrInvalidPath)
	})
}
