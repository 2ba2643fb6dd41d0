package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/auth"
	"github.com/wolfeidau/stockroom/internal/pipeline"
	"github.com/wolfeidau/stockroom/internal/result"
	"github.com/wolfeidau/stockroom/internal/tenant"
	"github.com/wolfeidau/stockroom/internal/uow"
)

// Settings are the per-deployment business switches.
type Settings struct {
	AllowNegativeStock bool
	LowStockLimit      int
	Retry              uow.RetryConfig
}

func (s *Settings) ApplyDefaults() {
	if s.LowStockLimit == 0 {
		s.LowStockLimit = 50
	}
	s.Retry.ApplyDefaults()
}

// Service exposes the inventory commands and queries. Every call goes
// through the validation and logging stages and runs in its own unit of work
// bound to the tenant context carried by ctx.
type Service struct {
	factory  *uow.Factory
	settings Settings

	createProduct  pipeline.Handler[CreateProduct, result.Value[uuid.UUID]]
	changePrice    pipeline.Handler[ChangePrice, result.Result]
	recordSale     pipeline.Handler[RecordSale, result.Value[uuid.UUID]]
	createCustomer pipeline.Handler[CreateCustomer, result.Value[uuid.UUID]]
	updateCustomer pipeline.Handler[UpdateCustomer, result.Result]
	removeCustomer pipeline.Handler[RemoveCustomer, result.Result]
	createUnit     pipeline.Handler[CreateUnit, result.Value[uuid.UUID]]
	deleteUnit     pipeline.Handler[DeleteUnit, result.Result]
	getProduct     pipeline.Handler[GetProduct, result.Value[ProductView]]
	listLowStock   pipeline.Handler[ListLowStock, result.Value[[]ProductView]]
}

// NewService wires the handlers into p.
func NewService(factory *uow.Factory, p *pipeline.Pipeline, settings Settings) *Service {
	settings.ApplyDefaults()

	s := &Service{factory: factory, settings: settings}
	s.createProduct = pipeline.Command(p, "CreateProduct", s.handleCreateProduct)
	s.changePrice = pipeline.Command(p, "ChangePrice", s.handleChangePrice)
	s.recordSale = pipeline.Command(p, "RecordSale", s.handleRecordSale)
	s.createCustomer = pipeline.Command(p, "CreateCustomer", s.handleCreateCustomer)
	s.updateCustomer = pipeline.Command(p, "UpdateCustomer", s.handleUpdateCustomer)
	s.removeCustomer = pipeline.Command(p, "RemoveCustomer", s.handleRemoveCustomer)
	s.createUnit = pipeline.Command(p, "CreateUnit", s.handleCreateUnit)
	s.deleteUnit = pipeline.Command(p, "DeleteUnit", s.handleDeleteUnit)
	s.getProduct = pipeline.Query(p, "GetProduct", s.handleGetProduct)
	s.listLowStock = pipeline.Query(p, "ListLowStock", s.handleListLowStock)
	return s
}

func (s *Service) CreateProduct(ctx context.Context, cmd CreateProduct) (result.Value[uuid.UUID], error) {
	return s.createProduct(ctx, cmd)
}

func (s *Service) ChangePrice(ctx context.Context, cmd ChangePrice) (result.Result, error) {
	return s.changePrice(ctx, cmd)
}

func (s *Service) RecordSale(ctx context.Context, cmd RecordSale) (result.Value[uuid.UUID], error) {
	return s.recordSale(ctx, cmd)
}

func (s *Service) CreateCustomer(ctx context.Context, cmd CreateCustomer) (result.Value[uuid.UUID], error) {
	return s.createCustomer(ctx, cmd)
}

func (s *Service) UpdateCustomer(ctx context.Context, cmd UpdateCustomer) (result.Result, error) {
	return s.updateCustomer(ctx, cmd)
}

func (s *Service) RemoveCustomer(ctx context.Context, cmd RemoveCustomer) (result.Result, error) {
	return s.removeCustomer(ctx, cmd)
}

func (s *Service) CreateUnit(ctx context.Context, cmd CreateUnit) (result.Value[uuid.UUID], error) {
	return s.createUnit(ctx, cmd)
}

func (s *Service) DeleteUnit(ctx context.Context, cmd DeleteUnit) (result.Result, error) {
	return s.deleteUnit(ctx, cmd)
}

func (s *Service) GetProduct(ctx context.Context, q GetProduct) (result.Value[ProductView], error) {
	return s.getProduct(ctx, q)
}

func (s *Service) ListLowStock(ctx context.Context, q ListLowStock) (result.Value[[]ProductView], error) {
	return s.listLowStock(ctx, q)
}

// begin opens a unit of work for the request. A context that never passed
// tenant resolution is rejected rather than treated as administrative.
func (s *Service) begin(ctx context.Context) (*uow.UnitOfWork, error) {
	tc := tenant.FromContext(ctx)
	if tc == nil {
		return nil, apperr.Unauthorized()
	}
	return s.factory.Begin(tc, auth.Actor(ctx))
}

func rollback(work *uow.UnitOfWork) {
	_ = work.Rollback()
}

func (s *Service) handleCreateProduct(ctx context.Context, cmd CreateProduct) (result.Value[uuid.UUID], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	defer rollback(work)

	products := uow.NewRepository[Product](work)

	sku := strings.TrimSpace(cmd.SKU)
	taken, err := products.Any(ctx, func(p *Product) bool { return strings.EqualFold(p.SKU, sku) })
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	if taken {
		return result.Fail[uuid.UUID](apperr.DomainRuleViolation("sku_unique",
			fmt.Sprintf("sku %q is already in use", sku))), nil
	}

	if cmd.UnitID != uuid.Nil {
		if _, err := uow.NewRepository[UnitOfMeasure](work).GetByID(ctx, cmd.UnitID); err != nil {
			return result.ValueFromError[uuid.UUID](err)
		}
	}

	p := NewProduct(sku, strings.TrimSpace(cmd.Name), cmd.CostCents, cmd.PriceCents, cmd.InitialStock, cmd.ReorderLevel)
	p.UnitID = cmd.UnitID
	if err := products.Add(p); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}

	if err := work.Commit(ctx); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	return result.Ok(p.ID), nil
}

func (s *Service) handleChangePrice(ctx context.Context, cmd ChangePrice) (result.Result, error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.FromError(err)
	}
	defer rollback(work)

	products := uow.NewRepository[Product](work)
	p, err := products.GetByID(ctx, cmd.ProductID)
	if err != nil {
		return result.FromError(err)
	}

	if verr := p.ChangePrice(cmd.PriceCents); verr != nil {
		return result.Failure(verr), nil
	}
	if err := products.Update(p); err != nil {
		return result.FromError(err)
	}

	return result.FromError(work.Commit(ctx))
}

// handleRecordSale retries on version conflicts: stock movements from
// concurrent sales commute, so a reload and recheck is always safe here.
func (s *Service) handleRecordSale(ctx context.Context, cmd RecordSale) (result.Value[uuid.UUID], error) {
	var out result.Value[uuid.UUID]
	err := uow.RetryOnConflict(ctx, s.settings.Retry, func(ctx context.Context) error {
		var err error
		out, err = s.recordSaleOnce(ctx, cmd)
		if err != nil {
			return err
		}
		if ae := out.Err(); ae != nil && ae.Kind == apperr.KindConflict {
			return ae
		}
		return nil
	})
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	return out, nil
}

// recordSaleOnce is a single load, check and commit attempt.
func (s *Service) recordSaleOnce(ctx context.Context, cmd RecordSale) (result.Value[uuid.UUID], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	defer rollback(work)

	if cmd.CustomerID != uuid.Nil {
		if _, err := uow.NewRepository[Customer](work).GetByID(ctx, cmd.CustomerID); err != nil {
			return result.ValueFromError[uuid.UUID](err)
		}
	}

	products := uow.NewRepository[Product](work)

	// check every line before touching any product so a shortfall stages nothing
	wanted := make(map[uuid.UUID]int64, len(cmd.Lines))
	loaded := make(map[uuid.UUID]*Product, len(cmd.Lines))
	var touched []*Product
	for _, line := range cmd.Lines {
		if _, ok := loaded[line.ProductID]; !ok {
			p, err := products.GetByID(ctx, line.ProductID)
			if err != nil {
				return result.ValueFromError[uuid.UUID](err)
			}
			loaded[line.ProductID] = p
			touched = append(touched, p)
		}
		wanted[line.ProductID] += line.Quantity
	}
	for _, p := range touched {
		if verr := p.CanRemove(wanted[p.ID], s.settings.AllowNegativeStock); verr != nil {
			return result.Fail[uuid.UUID](verr), nil
		}
	}

	lines := make([]SaleLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		p := loaded[line.ProductID]
		if verr := p.AdjustStock(-line.Quantity, s.settings.AllowNegativeStock); verr != nil {
			return result.Fail[uuid.UUID](verr), nil
		}
		lines = append(lines, SaleLine{ProductID: p.ID, Quantity: line.Quantity, UnitPriceCents: p.PriceCents})
	}
	for _, p := range touched {
		if err := products.Update(p); err != nil {
			return result.ValueFromError[uuid.UUID](err)
		}
	}

	tenantID, _ := work.Tenant().Get()
	sale, err := NewSale(tenantID, cmd.CustomerID, lines)
	if err != nil {
		return result.Value[uuid.UUID]{}, err
	}
	if err := uow.NewRepository[Sale](work).Add(sale); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}

	if err := work.Commit(ctx); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	return result.Ok(sale.ID), nil
}

func (s *Service) handleCreateCustomer(ctx context.Context, cmd CreateCustomer) (result.Value[uuid.UUID], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	defer rollback(work)

	c := &Customer{Name: strings.TrimSpace(cmd.Name), Email: cmd.Email}
	if err := uow.NewRepository[Customer](work).Add(c); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}

	if err := work.Commit(ctx); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	return result.Ok(c.ID), nil
}

func (s *Service) handleUpdateCustomer(ctx context.Context, cmd UpdateCustomer) (result.Result, error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.FromError(err)
	}
	defer rollback(work)

	customers := uow.NewRepository[Customer](work)
	c, err := customers.GetByID(ctx, cmd.ID)
	if err != nil {
		return result.FromError(err)
	}

	if c.Version != cmd.Version {
		return result.Failure(apperr.Conflict("version_conflict",
			fmt.Sprintf("customer is at version %d, update was based on %d", c.Version, cmd.Version))), nil
	}

	c.Name = strings.TrimSpace(cmd.Name)
	c.Email = cmd.Email
	if err := customers.Update(c); err != nil {
		return result.FromError(err)
	}

	return result.FromError(work.Commit(ctx))
}

func (s *Service) handleRemoveCustomer(ctx context.Context, cmd RemoveCustomer) (result.Result, error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.FromError(err)
	}
	defer rollback(work)

	customers := uow.NewRepository[Customer](work)
	c, err := customers.GetByID(ctx, cmd.ID)
	if err != nil {
		return result.FromError(err)
	}

	c.MarkRemoved()
	if err := customers.Remove(c); err != nil {
		return result.FromError(err)
	}

	return result.FromError(work.Commit(ctx))
}

func (s *Service) handleCreateUnit(ctx context.Context, cmd CreateUnit) (result.Value[uuid.UUID], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	defer rollback(work)

	units := uow.NewRepository[UnitOfMeasure](work)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	taken, err := units.Any(ctx, func(u *UnitOfMeasure) bool { return u.Code == code })
	if err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	if taken {
		return result.Fail[uuid.UUID](apperr.DomainRuleViolation("unit_code_unique",
			fmt.Sprintf("unit %q already exists", code))), nil
	}

	u := &UnitOfMeasure{Code: code, Name: strings.TrimSpace(cmd.Name)}
	if err := units.Add(u); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}

	if err := work.Commit(ctx); err != nil {
		return result.ValueFromError[uuid.UUID](err)
	}
	return result.Ok(u.ID), nil
}

func (s *Service) handleDeleteUnit(ctx context.Context, cmd DeleteUnit) (result.Result, error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.FromError(err)
	}
	defer rollback(work)

	units := uow.NewRepository[UnitOfMeasure](work)
	u, err := units.GetByID(ctx, cmd.ID)
	if err != nil {
		return result.FromError(err)
	}
	if err := units.Remove(u); err != nil {
		return result.FromError(err)
	}

	return result.FromError(work.Commit(ctx))
}

func (s *Service) handleGetProduct(ctx context.Context, q GetProduct) (result.Value[ProductView], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[ProductView](err)
	}
	defer rollback(work)

	p, err := uow.NewRepository[Product](work).GetByID(ctx, q.ID)
	if err != nil {
		return result.ValueFromError[ProductView](err)
	}
	return result.Ok(viewOf(p)), nil
}

func (s *Service) handleListLowStock(ctx context.Context, q ListLowStock) (result.Value[[]ProductView], error) {
	work, err := s.begin(ctx)
	if err != nil {
		return result.ValueFromError[[]ProductView](err)
	}
	defer rollback(work)

	limit := q.Limit
	if limit == 0 {
		limit = s.settings.LowStockLimit
	}

	low, err := uow.NewRepository[Product](work).Query().
		Where(func(p *Product) bool { return p.Stock <= p.ReorderLevel }).
		OrderBy(func(a, b *Product) bool { return a.Stock < b.Stock }).
		Limit(limit).
		List(ctx)
	if err != nil {
		return result.ValueFromError[[]ProductView](err)
	}

	views := make([]ProductView, 0, len(low))
	for _, p := range low {
		views = append(views, viewOf(p))
	}
	return result.Ok(views), nil
}
