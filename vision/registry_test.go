package vision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	var got LoadOptions
	r.Register("fake", func(opts LoadOptions) (Backbone, error) {
		got = opts
		return nil, nil
	})

	assert.True(t, r.Has("fake"))
	assert.Equal(t, []string{"fake"}, r.List())

	_, err := r.Create("fake", DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, DefaultLoadOptions(), got)

	assert.True(t, r.Unregister("fake"))
	assert.False(t, r.Unregister("fake"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryUnknown(t *testing.T) {
	_, err := NewRegistry().Create("fehlt", DefaultLoadOptions())

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "create", regErr.Op)
	assert.Equal(t, "fehlt", regErr.Name)
	assert.ErrorIs(t, err, ErrBackboneNotRegistered)
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Register("kaputt", func(LoadOptions) (Backbone, error) { return nil, boom })

	_, err := r.Create("kaputt", DefaultLoadOptions())
	assert.ErrorIs(t, err, boom)
}

func TestMustRegisterNilPanics(t *testing.T) {
	assert.Panics(t, func() { MustRegisterToDefault("nil", nil) })
}

func TestLoadOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"default", nil, nil},
		{"device", []Option{WithDevice("cuda")}, ErrInvalidDevice},
		{"ignoriert negative", []Option{WithEmbedDim(-1), WithImageSize(0), WithVocabSize(-3)}, nil},
		{"seed", []Option{WithSeed(7)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultLoadOptions()
			o.Apply(tt.opts...)
			assert.ErrorIs(t, o.Validate(), tt.want)
		})
	}

	o := LoadOptions{Device: DeviceCPU, EmbedDim: 4, ImageSize: 2, VocabSize: 1}
	assert.ErrorIs(t, o.Validate(), ErrInvalidVocabSize)
	assert.Equal(t, 12, o.InputDim())
}

func TestNewBackboneInvalidOptions(t *testing.T) {
	_, err := NewBackbone("clip-linear", WithDevice("metal"))
	assert.ErrorIs(t, err, ErrInvalidDevice)
}
