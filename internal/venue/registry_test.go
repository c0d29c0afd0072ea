package venue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydesk/carrybot/internal/domain"
)

type stubConnector struct {
	domain.Connector
	name string
}

func (s stubConnector) Name() string { return s.name }

func (s stubConnector) GetPrice(context.Context, string) (float64, error) { return 0, nil }

func TestRegisterAndLookup(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Register(stubConnector{name: "vest"})
	Register(stubConnector{name: "bitmara"})

	c, err := Lookup("vest")
	require.NoError(t, err)
	assert.Equal(t, "vest", c.Name())

	assert.Equal(t, []string{"bitmara", "vest"}, Names())
}

func TestLookupUnknownVenue(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	_, err := Lookup("nope")
	assert.ErrorIs(t, err, domain.ErrVenueNotFound)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Register(stubConnector{name: "vest"})
	assert.Panics(t, func() {
		Register(stubConnector{name: "vest"})
	})
}
