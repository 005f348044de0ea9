package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medzillo/medzillo/internal/app"
	"github.com/medzillo/medzillo/internal/inventory"
	_ "github.com/medzillo/medzillo/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}

func TestStockReaderFunc(t *testing.T) {
	var called bool
	reader := stockReaderFunc(func(_ context.Context, clinicID, medicineID int64) (inventory.StockView, error) {
		called = true
		return inventory.StockView{Medicine: inventory.Medicine{ID: medicineID, ClinicID: clinicID}}, nil
	})
	view, err := reader.GetStock(context.Background(), 1, 42)
	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, int64(42), view.Medicine.ID)
}
