package kafka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProducer_Close(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
