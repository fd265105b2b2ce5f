package citizen

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/store"
	"github.com/roach88/titlechain/internal/testutil"
)

func newDirectory(t *testing.T, idList ...string) *Directory {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "citizens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, WithIDs(ids.NewFixed(idList...)), WithClock(testutil.NewStepClock(testutil.Epoch, 0)))
}

func amina() RegisterInput {
	return RegisterInput{
		FullName:    " Amina Juma ",
		NIDA:        "19900101-12345-00001-23",
		PhoneNumber: "0712000111",
		Email:       "amina@example.com",
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, "c-1")

	c, err := d.Register(ctx, amina())
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.UUID)
	assert.Equal(t, "Amina Juma", c.FullName)
	assert.True(t, testutil.Epoch.Equal(c.RegisteredAt))

	got, err := d.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, c.NIDA, got.NIDA)
}

func TestRegister_DuplicateNIDA(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, "c-1", "c-2")

	_, err := d.Register(ctx, amina())
	require.NoError(t, err)

	again := amina()
	again.FullName = "Someone Else"
	again.NIDA = " 19900101-12345-00001-23"
	_, err = d.Register(ctx, again)
	assert.True(t, apperr.IsAlreadyExists(err))

	all, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		edit func(*RegisterInput)
	}{
		{"missing name", func(in *RegisterInput) { in.FullName = "  " }},
		{"missing NIDA", func(in *RegisterInput) { in.NIDA = "" }},
		{"missing phone", func(in *RegisterInput) { in.PhoneNumber = "" }},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDirectory(t, "c-1")
			in := amina()
			tt.edit(&in)
			_, err := d.Register(context.Background(), in)
			assert.True(t, apperr.Is(err, apperr.KindInvalid), "got %v", err)
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, "c-1")
	_, err := d.Register(ctx, amina())
	require.NoError(t, err)

	p, err := d.Resolve(ctx, model.Party{UUID: "c-1", FullName: "whatever the caller sent"})
	require.NoError(t, err)
	assert.Equal(t, "Amina Juma", p.FullName)
	assert.Equal(t, "19900101-12345-00001-23", p.NIDA)

	_, err = d.Resolve(ctx, model.Party{UUID: "c-9"})
	assert.True(t, apperr.IsNotFound(err))
}
