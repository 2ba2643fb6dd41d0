package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/auth"
	"github.com/wolfeidau/stockroom/internal/inventory"
	"github.com/wolfeidau/stockroom/internal/logger"
	"github.com/wolfeidau/stockroom/internal/result"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

type DemoCmd struct {
	Tenants int  `help:"number of tenants to run concurrently" default:"2"`
	Tracing bool `help:"export traces and metrics over OTLP" default:"false" env:"STOCKROOM_TRACING"`

	Store     StoreFlags     `embed:""`
	Inventory InventoryFlags `embed:""`
}

func (c *DemoCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	if c.Tenants < 1 {
		return fmt.Errorf("at least one tenant is required")
	}

	shutdownTelemetry := setupTelemetry(ctx, c.Tracing, globals.Version, log)
	defer shutdownTelemetry()

	engine, closeStore, err := c.Store.open(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	app := newStack(engine, c.Inventory, log)

	// units of measure are shared by every tenant, so the catalogue entry is
	// created once by an administrative context with no tenant bound
	adminCtx := auth.WithPrincipal(tenant.WithContext(ctx, tenant.New()), &auth.Principal{Subject: "demo-admin", Source: "demo"})
	unitID, err := value(app.service.CreateUnit(adminCtx, inventory.CreateUnit{
		Code: "EA-" + uuid.NewString()[:8],
		Name: "Each",
	}))
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}

	tenants := make([]uuid.UUID, c.Tenants)
	products := make([]uuid.UUID, c.Tenants)
	for i := range tenants {
		tenants[i] = uuid.New()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, tenantID := range tenants {
		g.Go(func() error {
			tctx, err := demoContext(gctx, tenantID)
			if err != nil {
				return err
			}
			productID, err := runTenantScenario(tctx, app.service, unitID, log.With().Str("tenant_id", tenantID.String()).Logger())
			if err != nil {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
			products[i] = productID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// every tenant must be blind to every other tenant's product
	for i, tenantID := range tenants {
		tctx, err := demoContext(ctx, tenantID)
		if err != nil {
			return err
		}
		for j, productID := range products {
			if i == j {
				continue
			}
			out, err := app.service.GetProduct(tctx, inventory.GetProduct{ID: productID})
			if err := expectKind(out, err, apperr.KindNotFound); err != nil {
				return fmt.Errorf("cross-tenant read by %s: %w", tenantID, err)
			}
		}
	}

	log.Info().
		Int("tenants", len(tenants)).
		Int("low_stock_alerts", len(app.alerts.Recent())).
		Msg("Demo completed")
	return nil
}

func demoContext(ctx context.Context, tenantID uuid.UUID) (context.Context, error) {
	tc, err := tenant.For(tenantID)
	if err != nil {
		return nil, err
	}
	ctx = tenant.WithContext(ctx, tc)
	return auth.WithPrincipal(ctx, &auth.Principal{
		Subject:  "demo@" + tenantID.String(),
		TenantID: tenantID,
		Source:   "demo",
	}), nil
}

// runTenantScenario walks one tenant through the inventory workflow and
// checks each expected outcome. It returns the id of the tenant's product.
func runTenantScenario(ctx context.Context, svc *inventory.Service, unitID uuid.UUID, log zerolog.Logger) (uuid.UUID, error) {
	productID, err := value(svc.CreateProduct(ctx, inventory.CreateProduct{
		SKU:          "WIDGET-1",
		Name:         "Widget",
		CostCents:    1000,
		PriceCents:   1500,
		InitialStock: 10,
		ReorderLevel: 3,
		UnitID:       unitID,
	}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create product: %w", err)
	}

	view, err := value(svc.GetProduct(ctx, inventory.GetProduct{ID: productID}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("get product: %w", err)
	}
	if tenantID, _ := tenant.FromContext(ctx).Get(); view.TenantID != tenantID {
		return uuid.Nil, fmt.Errorf("product stamped with tenant %s", view.TenantID)
	}
	log.Info().Str("product_id", productID.String()).Time("created_at", view.CreatedAt).Msg("Product created")

	customerID, err := value(svc.CreateCustomer(ctx, inventory.CreateCustomer{Name: "Ada", Email: "ada@example.com"}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create customer: %w", err)
	}

	saleID, err := value(svc.RecordSale(ctx, inventory.RecordSale{
		CustomerID: customerID,
		Lines:      []inventory.SaleLineRequest{{ProductID: productID, Quantity: 8}},
	}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("record sale: %w", err)
	}
	log.Info().Str("sale_id", saleID.String()).Msg("Sale recorded")

	out, err := svc.RecordSale(ctx, inventory.RecordSale{
		Lines: []inventory.SaleLineRequest{{ProductID: productID, Quantity: 5}},
	})
	if err := expectKind(out, err, apperr.KindInsufficientResource); err != nil {
		return uuid.Nil, fmt.Errorf("oversell: %w", err)
	}

	priced, err := svc.ChangePrice(ctx, inventory.ChangePrice{ProductID: productID, PriceCents: 900})
	if err := expectKind(priced, err, apperr.KindDomainRuleViolation); err != nil {
		return uuid.Nil, fmt.Errorf("price below cost: %w", err)
	}

	first, err := svc.UpdateCustomer(ctx, inventory.UpdateCustomer{ID: customerID, Version: 1, Name: "Ada L"})
	if err := expectSuccess(first, err); err != nil {
		return uuid.Nil, fmt.Errorf("first customer edit: %w", err)
	}
	stale, err := svc.UpdateCustomer(ctx, inventory.UpdateCustomer{ID: customerID, Version: 1, Name: "Ada B"})
	if err := expectKind(stale, err, apperr.KindConflict); err != nil {
		return uuid.Nil, fmt.Errorf("stale customer edit: %w", err)
	}

	removed, err := svc.RemoveCustomer(ctx, inventory.RemoveCustomer{ID: customerID})
	if err := expectSuccess(removed, err); err != nil {
		return uuid.Nil, fmt.Errorf("remove customer: %w", err)
	}

	low, err := value(svc.ListLowStock(ctx, inventory.ListLowStock{}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("list low stock: %w", err)
	}
	if len(low) != 1 || low[0].ID != productID || low[0].Stock != 2 {
		return uuid.Nil, fmt.Errorf("unexpected low stock listing: %+v", low)
	}

	log.Info().Int("low_stock", len(low)).Msg("Tenant scenario passed")
	return productID, nil
}

// value unwraps a successful outcome, turning failures into errors.
func value[T any](out result.Value[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	if out.IsFailure() {
		var zero T
		return zero, out.Err()
	}
	return out.Value(), nil
}

func expectSuccess(out result.Outcome, err error) error {
	if err != nil {
		return err
	}
	if !out.IsSuccess() {
		return out.Err()
	}
	return nil
}

func expectKind(out result.Outcome, err error, kind apperr.Kind) error {
	if err != nil {
		return err
	}
	if out.IsSuccess() {
		return fmt.Errorf("expected %s, got success", kind)
	}
	if out.Err().Kind != kind {
		return fmt.Errorf("expected %s, got %w", kind, out.Err())
	}
	return nil
}
