// Command seed loads a demo tenant: a chart of accounts, the inventory
// adjustment mappings, an open period for the current month, opening stock
// and one bill of materials.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	demoTenant    int64 = 1
	demoActor     int64 = 1
	demoWarehouse int64 = 1
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	if err := db.Migrate(cfg.PGDSN, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := accounting.NewRepository(pool)
	ledger := accounting.NewService(repo, nil)
	periods := accounting.NewPeriodService(repo, nil)
	stock := inventory.NewService(inventory.NewRepository(pool), nil, shared.NewIdempotencyStore(pool), inventory.ServiceConfig{Logger: logger}, nil)
	mfg := manufacturing.NewService(manufacturing.NewRepository(pool), nil, manufacturing.ServiceConfig{Logger: logger})

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"accounts", func(ctx context.Context) error { return seedAccounts(ctx, ledger) }},
		{"period", func(ctx context.Context) error { return seedPeriod(ctx, periods, time.Now().UTC()) }},
		{"stock", func(ctx context.Context) error { return seedStock(ctx, stock) }},
		{"bom", func(ctx context.Context) error { return seedBOM(ctx, mfg) }},
	}
	for _, step := range steps {
		logger.Info("seeding", slog.String("step", step.name))
		if err := step.run(ctx); err != nil {
			logger.Error("seed failed", slog.String("step", step.name), slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger.Info("seed complete", slog.Int64("tenant_id", demoTenant))
}

func seedAccounts(ctx context.Context, svc *accounting.Service) error {
	accounts := []struct {
		code, name string
		typ        accounting.AccountType
		mapping    string
	}{
		{"1300", "Inventory", accounting.AccountTypeAsset, integration.KeyAdjustmentInventory},
		{"4900", "Inventory Gain", accounting.AccountTypeRevenue, integration.KeyAdjustmentGain},
		{"5900", "Inventory Shrinkage", accounting.AccountTypeExpense, integration.KeyAdjustmentLoss},
		{"1000", "Cash", accounting.AccountTypeAsset, ""},
		{"3000", "Owner Equity", accounting.AccountTypeEquity, ""},
	}
	existing, err := svc.ListAccounts(ctx, demoTenant)
	if err != nil {
		return err
	}
	byCode := make(map[string]int64, len(existing))
	for _, a := range existing {
		byCode[a.Code] = a.ID
	}
	for _, a := range accounts {
		id, ok := byCode[a.code]
		if !ok {
			created, err := svc.CreateAccount(ctx, accounting.AccountInput{TenantID: demoTenant, Code: a.code, Name: a.name, Type: a.typ})
			if err != nil {
				return fmt.Errorf("account %s: %w", a.code, err)
			}
			id = created.ID
		}
		if a.mapping == "" {
			continue
		}
		if err := svc.SetAccountMapping(ctx, accounting.AccountMapping{
			TenantID: demoTenant, Module: integration.ModuleInventory, Key: a.mapping, AccountID: id,
		}); err != nil {
			return fmt.Errorf("mapping %s: %w", a.mapping, err)
		}
	}
	return nil
}

func seedPeriod(ctx context.Context, svc *accounting.PeriodService, now time.Time) error {
	if _, err := svc.FindOpenPeriodByDate(ctx, demoTenant, now); err == nil {
		return nil
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	period, err := svc.CreatePeriod(ctx, accounting.PeriodInput{
		TenantID:  demoTenant,
		Code:      start.Format("2006-01"),
		StartDate: start,
		EndDate:   start.AddDate(0, 1, -1),
	})
	if err != nil {
		return err
	}
	_, err = svc.OpenPeriod(ctx, demoTenant, period.ID, demoActor)
	return err
}

func seedStock(ctx context.Context, svc *inventory.Service) error {
	receipts := []struct {
		product  int64
		qty      string
		unitCost string
	}{
		{1, "500", "2.00"},
		{2, "200", "10.00"},
	}
	for _, r := range receipts {
		_, err := svc.PostReceipt(ctx, inventory.ReceiptInput{
			TenantID:       demoTenant,
			ProductID:      r.product,
			WarehouseID:    demoWarehouse,
			Quantity:       decimal.RequireFromString(r.qty),
			UnitCost:       decimal.RequireFromString(r.unitCost),
			ReferenceType:  "SEED",
			ReferenceID:    "opening",
			Note:           "Opening balance",
			ActorID:        demoActor,
			IdempotencyKey: fmt.Sprintf("seed-opening-%d", r.product),
		})
		if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			return err
		}
	}
	return nil
}

func seedBOM(ctx context.Context, svc *manufacturing.Service) error {
	_, err := svc.CreateBOM(ctx, manufacturing.CreateBOMInput{
		TenantID:       demoTenant,
		Code:           "BREAD",
		ProductID:      100,
		OutputQuantity: decimal.NewFromInt(2),
		Components: []manufacturing.ComponentInput{
			{ProductID: 1, Code: "FLOUR", Quantity: decimal.NewFromInt(3)},
			{ProductID: 2, Code: "SUGAR", Quantity: decimal.RequireFromString("0.5")},
		},
		ActorID: demoActor,
	})
	if errors.Is(err, manufacturing.ErrDuplicateCode) {
		return nil
	}
	return err
}
