// Package httpapi exposes the marketplace over HTTP. Handlers stay thin:
// decode, call the domain service, translate the error. All business rules
// live in the domain packages.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"yardflow/auth"
	"yardflow/availability"
	"yardflow/dispute"
	"yardflow/order"
	"yardflow/supplier"
)

// AvailabilityService lists the windows a supplier can currently offer.
type AvailabilityService interface {
	AvailableWindows(ctx context.Context, supplierID string, tzOffsetMin int) (availability.Windows, error)
}

// OrderService drives the order lifecycle.
type OrderService interface {
	Create(ctx context.Context, params order.CreateParams) (order.Order, error)
	AssignWindow(ctx context.Context, params order.AssignWindowParams) (order.Order, error)
	Dispatch(ctx context.Context, params order.DispatchParams) (order.Order, error)
	MarkDelivered(ctx context.Context, params order.DeliveredParams) (order.Order, error)
	Confirm(ctx context.Context, params order.ConfirmParams) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
	List(ctx context.Context, filters order.Filters) ([]order.Order, int, error)
}

// DisputeService records buyer disputes.
type DisputeService interface {
	File(ctx context.Context, params dispute.FileParams) (dispute.Record, error)
}

// AuthService issues and verifies tokens.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

// SupplierService reads supplier profiles.
type SupplierService interface {
	GetByID(ctx context.Context, id string) (supplier.Profile, error)
	List(ctx context.Context, limit int) ([]supplier.Profile, error)
}

// Server wires the domain services to routes.
type Server struct {
	availabilityService AvailabilityService
	orderService        OrderService
	disputeService      DisputeService
	authService         AuthService
	supplierService     SupplierService
	log                 *zap.Logger
	now                 func() time.Time
}

func NewServer(
	availabilitySvc AvailabilityService,
	orderSvc OrderService,
	disputeSvc DisputeService,
	authSvc AuthService,
	supplierSvc SupplierService,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		availabilityService: availabilitySvc,
		orderService:        orderSvc,
		disputeService:      disputeSvc,
		authService:         authSvc,
		supplierService:     supplierSvc,
		log:                 log,
		now:                 time.Now,
	}
}

func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Get("/api/suppliers", s.handleSuppliers)
	r.Get("/api/suppliers/{id}", s.handleSupplier)
	r.Get("/api/suppliers/{id}/available-windows", s.handleAvailableWindows)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/orders", s.handleCreateOrder)
		r.Get("/api/orders", s.handleListOrders)
		r.Get("/api/orders/{id}", s.handleOrder)
		r.Post("/api/orders/{id}/window", s.handleAssignWindow)
		r.Post("/api/orders/{id}/confirm", s.handleConfirm)
		r.Post("/api/orders/{id}/dispute", s.handleDispute)
		r.Post("/api/orders/{id}/dispatch", s.handleDispatch)
		r.Post("/api/orders/{id}/delivered", s.handleDelivered)
	})

	return r
}
