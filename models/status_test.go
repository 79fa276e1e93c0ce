package models_test

import (
	"testing"

	"orderbroker/models"

	"github.com/stretchr/testify/require"
)

func TestRequestStatusTerminal(t *testing.T) {
	for _, s := range []models.RequestStatus{models.RequestCompleted, models.RequestCancelled, models.RequestExpired} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range []models.RequestStatus{models.RequestPendingCategorization, models.RequestOpenForBids, models.RequestBidsReceived, models.RequestInProgress} {
		require.False(t, s.Terminal(), s)
	}
}

func TestOrderRankIsMonotonic(t *testing.T) {
	path := []models.OrderStatus{
		models.OrderConfirmed,
		models.OrderInProduction,
		models.OrderQualityCheck,
		models.OrderShipped,
		models.OrderDelivered,
		models.OrderCompleted,
	}
	prev := -1
	for _, s := range path {
		r, ok := s.Rank()
		require.True(t, ok)
		require.Greater(t, r, prev)
		prev = r
	}
	_, ok := models.OrderCancelled.Rank()
	require.False(t, ok)
	_, ok = models.OrderDisputed.Rank()
	require.False(t, ok)
}

func TestParseSupplierStatus(t *testing.T) {
	cases := map[string]models.OrderStatus{
		"in_progress":   models.OrderInProduction,
		"production":    models.OrderInProduction,
		"quality_check": models.OrderQualityCheck,
		"Shipped":       models.OrderShipped,
		"delivered":     models.OrderDelivered,
		"cancelled":     models.OrderCancelled,
	}
	for in, want := range cases {
		got, ok := models.ParseSupplierStatus(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := models.ParseSupplierStatus("completed")
	require.False(t, ok)
}

func TestPriorityRank(t *testing.T) {
	require.Greater(t, models.PriorityUrgent.Rank(), models.PriorityHigh.Rank())
	require.Greater(t, models.PriorityHigh.Rank(), models.PriorityNormal.Rank())
	require.Greater(t, models.PriorityNormal.Rank(), models.PriorityLow.Rank())

	p, ok := models.ParsePriority(" URGENT ")
	require.True(t, ok)
	require.Equal(t, models.PriorityUrgent, p)
	_, ok = models.ParsePriority("asap")
	require.False(t, ok)
}
