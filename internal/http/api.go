package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/auth"
	"github.com/wolfeidau/stockroom/internal/inventory"
	"github.com/wolfeidau/stockroom/internal/result"
)

const maxBodyBytes = 1 << 20

// API serves the inventory service over JSON.
type API struct {
	svc *inventory.Service
}

// NewHandler builds the inventory routes behind tenant resolution and the
// access log. v may be nil, in which case only the tenant header is honoured.
// Only the health check is served without a tenant.
func NewHandler(svc *inventory.Service, v *auth.Verifier, logger zerolog.Logger) http.Handler {
	a := &API{svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/products", a.createProduct)
	mux.HandleFunc("GET /v1/products/low-stock", a.listLowStock)
	mux.HandleFunc("GET /v1/products/{id}", a.getProduct)
	mux.HandleFunc("PUT /v1/products/{id}/price", a.changePrice)
	mux.HandleFunc("POST /v1/customers", a.createCustomer)
	mux.HandleFunc("PUT /v1/customers/{id}", a.updateCustomer)
	mux.HandleFunc("DELETE /v1/customers/{id}", a.removeCustomer)
	mux.HandleFunc("POST /v1/sales", a.recordSale)
	mux.HandleFunc("POST /v1/units", a.createUnit)
	mux.HandleFunc("DELETE /v1/units/{id}", a.deleteUnit)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	root.Handle("/v1/", auth.TenantMiddleware(v)(mux))

	return AccessLog(logger)(root)
}

type createdResponse struct {
	ID uuid.UUID `json:"id"`
}

type errorResponse struct {
	Kind      apperr.Kind `json:"kind"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Requested int64       `json:"requested,omitempty"`
	Available int64       `json:"available,omitempty"`
}

type createProductRequest struct {
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	CostCents    int64     `json:"cost_cents"`
	PriceCents   int64     `json:"price_cents"`
	InitialStock int64     `json:"initial_stock"`
	ReorderLevel int64     `json:"reorder_level"`
	UnitID       uuid.UUID `json:"unit_id"`
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.CreateProduct(r.Context(), inventory.CreateProduct(req))
	writeCreated(w, res, err)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := a.svc.GetProduct(r.Context(), inventory.GetProduct{ID: id})
	writeValue(w, http.StatusOK, res, err)
}

func (a *API) listLowStock(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAppError(w, apperr.Validation("invalid_limit", "limit must be a number"))
			return
		}
		limit = n
	}
	res, err := a.svc.ListLowStock(r.Context(), inventory.ListLowStock{Limit: limit})
	writeValue(w, http.StatusOK, res, err)
}

type changePriceRequest struct {
	PriceCents int64 `json:"price_cents"`
}

func (a *API) changePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req changePriceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.ChangePrice(r.Context(), inventory.ChangePrice{ProductID: id, PriceCents: req.PriceCents})
	writeResult(w, res, err)
}

type customerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Version int64  `json:"version"`
}

func (a *API) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.CreateCustomer(r.Context(), inventory.CreateCustomer{Name: req.Name, Email: req.Email})
	writeCreated(w, res, err)
}

func (a *API) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req customerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.UpdateCustomer(r.Context(), inventory.UpdateCustomer{
		ID:      id,
		Version: req.Version,
		Name:    req.Name,
		Email:   req.Email,
	})
	writeResult(w, res, err)
}

func (a *API) removeCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := a.svc.RemoveCustomer(r.Context(), inventory.RemoveCustomer{ID: id})
	writeResult(w, res, err)
}

type saleLineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int64     `json:"quantity"`
}

type recordSaleRequest struct {
	CustomerID uuid.UUID         `json:"customer_id"`
	Lines      []saleLineRequest `json:"lines"`
}

func (a *API) recordSale(w http.ResponseWriter, r *http.Request) {
	var req recordSaleRequest
	if !decode(w, r, &req) {
		return
	}
	cmd := inventory.RecordSale{CustomerID: req.CustomerID}
	for _, l := range req.Lines {
		cmd.Lines = append(cmd.Lines, inventory.SaleLineRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	res, err := a.svc.RecordSale(r.Context(), cmd)
	writeCreated(w, res, err)
}

type createUnitRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (a *API) createUnit(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.svc.CreateUnit(r.Context(), inventory.CreateUnit(req))
	writeCreated(w, res, err)
}

func (a *API) deleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := a.svc.DeleteUnit(r.Context(), inventory.DeleteUnit{ID: id})
	writeResult(w, res, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, apperr.Validation("invalid_id", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAppError(w, apperr.Validation("invalid_body", "request body is not valid JSON"))
		return false
	}
	return true
}

func writeCreated(w http.ResponseWriter, res result.Value[uuid.UUID], err error) {
	if !handled(w, res, err) {
		writeJSON(w, http.StatusCreated, createdResponse{ID: res.Value()})
	}
}

func writeValue[T any](w http.ResponseWriter, status int, res result.Value[T], err error) {
	if !handled(w, res, err) {
		writeJSON(w, status, res.Value())
	}
}

func writeResult(w http.ResponseWriter, res result.Result, err error) {
	if !handled(w, res, err) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// handled writes the response for infrastructure errors and failed outcomes.
func handled(w http.ResponseWriter, res result.Outcome, err error) bool {
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    "internal",
			Message: http.StatusText(http.StatusInternalServerError),
		})
		return true
	}
	if !res.IsSuccess() {
		writeAppError(w, res.Err())
		return true
	}
	return false
}

func writeAppError(w http.ResponseWriter, ae *apperr.Error) {
	writeJSON(w, apperr.HTTPStatus(ae), errorResponse{
		Kind:      ae.Kind,
		Code:      ae.Code,
		Message:   ae.Error(),
		Requested: ae.Requested,
		Available: ae.Available,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
