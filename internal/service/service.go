package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kazu-2020/bento-manager-sub000/internal/cache"
	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/events"
	"github.com/kazu-2020/bento-manager-sub000/internal/inventory"
	"github.com/kazu-2020/bento-manager-sub000/internal/pricing"
	"github.com/kazu-2020/bento-manager-sub000/internal/refund"
	"github.com/kazu-2020/bento-manager-sub000/internal/sales"
	"github.com/kazu-2020/bento-manager-sub000/internal/store"
	"github.com/kazu-2020/bento-manager-sub000/internal/xid"
)

var ErrForbidden = errors.New("manager role required")

const missingPricesKey = "catalog:missing-prices"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	BusinessTZ *time.Location
	HealthTTL  time.Duration
	Logger     log.FieldLogger
}

type Service struct {
	repo      store.Repository
	health    cache.HealthCache
	publisher events.Publisher
	logger    log.FieldLogger
	healthTTL time.Duration

	validator *pricing.Validator
	ledger    *inventory.Ledger
	recorder  *sales.Recorder
	refunds   *refund.Processor
}

func New(repo store.Repository, health cache.HealthCache, publisher events.Publisher, opts Options) *Service {
	if health == nil {
		health = cache.NoopHealthCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.HealthTTL <= 0 {
		opts.HealthTTL = 5 * time.Minute
	}

	ledger := inventory.NewLedger(repo)
	recorder := sales.NewRecorder(repo, ledger, opts.BusinessTZ)
	return &Service{
		repo:      repo,
		health:    health,
		publisher: publisher,
		logger:    opts.Logger.WithField("component", "service"),
		healthTTL: opts.HealthTTL,
		validator: pricing.NewValidator(repo),
		ledger:    ledger,
		recorder:  recorder,
		refunds:   refund.NewProcessor(repo, ledger, recorder),
	}
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) CreateLocation(ctx context.Context, req domain.LocationCreateRequest) (domain.Location, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Location{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Location{}, fmt.Errorf("%w: location name is required", store.ErrInvalidArgument)
	}

	location := domain.Location{
		ID:        xid.New("loc"),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateLocation(ctx, location); err != nil {
		return domain.Location{}, err
	}
	return location, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListActiveProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Product{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || !req.Category.Valid() {
		return domain.Product{}, fmt.Errorf("%w: product needs a name and a category of bento or side_menu", store.ErrInvalidArgument)
	}

	product := domain.Product{
		ID:        xid.New("prod"),
		Name:      name,
		Category:  req.Category,
		CreatedAt: time.Now().UTC(),
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateHealth(ctx)
	return product, nil
}

// DiscontinueProduct retires a product. It stays referenced by historical
// sales but leaves listings and the missing-price check.
func (s *Service) DiscontinueProduct(ctx context.Context, productID string, req domain.ProductDiscontinueRequest) (domain.Product, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Product{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Product{}, fmt.Errorf("%w: discontinuation reason is required", store.ErrInvalidArgument)
	}

	var product domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		p, ok := found[productID]
		if !ok {
			return store.ErrNotFound
		}
		if p.Discontinued {
			return fmt.Errorf("%w: product %s is already discontinued", store.ErrValidationFailed, productID)
		}

		at := time.Now().UTC()
		if err := tx.InsertDiscontinuation(ctx, domain.ProductDiscontinuation{ProductID: productID, Reason: reason, DiscontinuedAt: at}); err != nil {
			return err
		}
		p.Discontinued = true
		p.DiscontinuedAt = &at
		product = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateHealth(ctx)
	return product, nil
}

// CreatePrice opens a new price version. The current open row for the same
// product and kind is closed at the instant the new one takes effect, so at
// most one open row exists per pair.
func (s *Service) CreatePrice(ctx context.Context, productID string, req domain.PriceCreateRequest) (domain.Price, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Price{}, err
	}
	if !req.Kind.Valid() {
		return domain.Price{}, fmt.Errorf("%w: price kind must be regular or bundle", store.ErrInvalidArgument)
	}
	if req.Amount < 1 {
		return domain.Price{}, fmt.Errorf("%w: price amount must be positive", store.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	effectiveFrom := now
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
		if effectiveFrom.Before(now) {
			return domain.Price{}, fmt.Errorf("%w: prices cannot be backdated", store.ErrInvalidArgument)
		}
	}

	price := domain.Price{
		ID:            xid.New("price"),
		ProductID:     productID,
		Kind:          req.Kind,
		Amount:        req.Amount,
		EffectiveFrom: effectiveFrom,
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		if _, ok := found[productID]; !ok {
			return store.ErrNotFound
		}

		open, err := tx.LockOpenPrice(ctx, productID, req.Kind)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := tx.ClosePrice(ctx, open.ID, effectiveFrom); err != nil {
				return err
			}
		}
		return tx.InsertPrice(ctx, price)
	})
	if err != nil {
		return domain.Price{}, err
	}

	s.invalidateHealth(ctx)
	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"kind":       price.Kind,
		"amount":     price.Amount,
	}).Info("price version created")
	return price, nil
}

func (s *Service) ListPrices(ctx context.Context, productID string) ([]domain.Price, error) {
	var prices []domain.Price
	for _, kind := range []domain.PriceKind{domain.PriceKindRegular, domain.PriceKindBundle} {
		found, err := s.repo.ListPrices(ctx, productID, kind)
		if err != nil {
			return nil, err
		}
		prices = append(prices, found...)
	}
	return prices, nil
}

func (s *Service) CreatePricingRule(ctx context.Context, req domain.PricingRuleCreateRequest) (domain.PricingRule, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.PricingRule{}, err
	}
	if !req.PriceKind.Valid() || !req.TriggerCategory.Valid() || req.MaxPerTrigger < 0 {
		return domain.PricingRule{}, fmt.Errorf("%w: rule needs a price kind, a trigger category and max_per_trigger >= 0", store.ErrInvalidArgument)
	}
	from, until, err := validityWindow(req.ValidFrom, req.ValidUntil)
	if err != nil {
		return domain.PricingRule{}, err
	}

	rule := domain.PricingRule{
		ID:              xid.New("rule"),
		TargetProductID: req.TargetProductID,
		PriceKind:       req.PriceKind,
		TriggerCategory: req.TriggerCategory,
		MaxPerTrigger:   req.MaxPerTrigger,
		ValidFrom:       from,
		ValidUntil:      until,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetProducts(ctx, []string{req.TargetProductID})
		if err != nil {
			return err
		}
		if _, ok := found[req.TargetProductID]; !ok {
			return store.ErrNotFound
		}
		return tx.InsertPricingRule(ctx, rule)
	})
	if err != nil {
		return domain.PricingRule{}, err
	}

	s.invalidateHealth(ctx)
	return rule, nil
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.Discount{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || !req.TriggerCategory.Valid() || req.AmountPerUnit < 1 || req.MaxPerTriggerQuantity < 0 {
		return domain.Discount{}, fmt.Errorf("%w: discount needs a name, a trigger category, a positive amount and max >= 0", store.ErrInvalidArgument)
	}
	from, until, err := validityWindow(req.ValidFrom, req.ValidUntil)
	if err != nil {
		return domain.Discount{}, err
	}

	discount := domain.Discount{
		ID:                    xid.New("disc"),
		Name:                  name,
		TriggerCategory:       req.TriggerCategory,
		AmountPerUnit:         req.AmountPerUnit,
		MaxPerTriggerQuantity: req.MaxPerTriggerQuantity,
		ValidFrom:             from,
		ValidUntil:            until,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertDiscount(ctx, discount)
	})
	if err != nil {
		return domain.Discount{}, err
	}
	return discount, nil
}

func validityWindow(from *time.Time, until *time.Time) (time.Time, *time.Time, error) {
	start := time.Now().UTC()
	if from != nil {
		start = from.UTC()
	}
	if until == nil {
		return start, nil, nil
	}
	end := until.UTC()
	if !end.After(start) {
		return time.Time{}, nil, fmt.Errorf("%w: valid_until must be after valid_from", store.ErrInvalidArgument)
	}
	return start, &end, nil
}

// MissingPrices reports active products lacking a required price right now.
// The report is cached until the next catalog write or the TTL.
func (s *Service) MissingPrices(ctx context.Context) (domain.MissingPriceReport, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.MissingPriceReport{}, err
	}

	cached, ok, err := s.health.Get(ctx, missingPricesKey)
	if err != nil {
		s.logger.WithError(err).Warn("health cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	now := time.Now().UTC()
	products, err := s.validator.ListProductsWithMissingPrices(ctx, now)
	if err != nil {
		return domain.MissingPriceReport{}, err
	}
	report := domain.MissingPriceReport{Products: products, CheckedAt: now}
	if err := s.health.Set(ctx, missingPricesKey, &report, s.healthTTL); err != nil {
		s.logger.WithError(err).Warn("health cache write failed")
	}
	return report, nil
}

func (s *Service) invalidateHealth(ctx context.Context) {
	if err := s.health.Delete(ctx, missingPricesKey); err != nil {
		s.logger.WithError(err).Warn("health cache invalidation failed")
	}
}

// Quote prices a basket without side effects. Discontinued products are
// refused the same way Checkout refuses them.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	if err := rejectDiscontinued(ctx, s.repo, req.Items); err != nil {
		return domain.Quote{}, err
	}
	quote, err := pricing.NewCalculator(s.repo).Calculate(ctx, req.Items, req.Coupons, asOf)
	if err != nil {
		return domain.Quote{}, err
	}
	return *quote, nil
}

// Checkout prices the basket and records the sale in one transaction so the
// committed amounts are exactly the ones computed against the locked state.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: location is required", store.ErrInvalidArgument)
	}
	switch req.CustomerType {
	case "":
		req.CustomerType = domain.CustomerTypeWalkIn
	case domain.CustomerTypeWalkIn, domain.CustomerTypeCorporate:
	default:
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unknown customer type %q", store.ErrInvalidArgument, req.CustomerType)
	}

	var employeeID string
	if actor, ok := ActorFromContext(ctx); ok {
		employeeID = actor.EmployeeID
	}

	now := time.Now().UTC()
	var (
		sale  *domain.Sale
		quote *domain.Quote
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := rejectDiscontinued(ctx, tx, req.Items); err != nil {
			return err
		}
		var err error
		quote, err = pricing.NewCalculator(tx).Calculate(ctx, req.Items, req.Coupons, now)
		if err != nil {
			return err
		}
		sale, err = s.recorder.RecordTx(ctx, tx, domain.SaleHeader{
			LocationID:   req.LocationID,
			SaleDatetime: now,
			CustomerType: req.CustomerType,
			EmployeeID:   employeeID,
		}, quote)
		return err
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.logger.WithFields(log.Fields{
		"sale_id":      sale.ID,
		"location_id":  sale.LocationID,
		"final_amount": sale.FinalAmount,
	}).Info("sale recorded")
	s.publish(ctx, events.New(events.TypeSaleRecorded, events.SaleRecorded{
		SaleID:      sale.ID,
		LocationID:  sale.LocationID,
		FinalAmount: sale.FinalAmount,
		ItemCount:   len(sale.Items),
	}))

	return domain.CheckoutResponse{Sale: *sale, Quote: *quote}, nil
}

func rejectDiscontinued(ctx context.Context, catalog store.CatalogReader, items []domain.BasketLine) error {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := catalog.GetProducts(ctx, ids)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.Discontinued {
			return fmt.Errorf("%w: product %s is discontinued", store.ErrInvalidArgument, p.ID)
		}
	}
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// Refund voids the sale and re-sells req.RetainedItems. The processing
// employee is the authenticated manager.
func (s *Service) Refund(ctx context.Context, saleID string, req domain.RefundRequest) (domain.RefundResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	result, err := s.refunds.Process(ctx, refund.Request{
		SaleID:     strings.TrimSpace(saleID),
		Retained:   req.RetainedItems,
		Reason:     req.Reason,
		EmployeeID: actor.EmployeeID,
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.logger.WithFields(log.Fields{
		"sale_id":       result.VoidedSale.ID,
		"location_id":   result.VoidedSale.LocationID,
		"refund_amount": result.RefundAmount,
		"employee":      actor.Username,
	}).Info("sale refunded")
	s.publish(ctx, events.New(events.TypeSaleRefunded, events.SaleRefunded{
		RefundID:        result.Refund.ID,
		OriginalSaleID:  result.Refund.OriginalSaleID,
		CorrectedSaleID: result.Refund.CorrectedSaleID,
		Amount:          result.RefundAmount,
	}))

	return domain.RefundResponse{
		Refund:        result.Refund,
		VoidedSale:    result.VoidedSale,
		CorrectedSale: result.CorrectedSale,
		RefundAmount:  result.RefundAmount,
	}, nil
}

func (s *Service) OpenDay(ctx context.Context, locationID string, date time.Time, req domain.InventoryDayRequest) (domain.InventoryDayResponse, error) {
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		return domain.InventoryDayResponse{}, err
	}
	records, err := s.ledger.BulkCreate(ctx, locationID, date, req.Items)
	if err != nil {
		return domain.InventoryDayResponse{}, err
	}
	return dayResponse(locationID, date, false, records), nil
}

// CorrectDay wipes and reseeds a day that has not started selling.
func (s *Service) CorrectDay(ctx context.Context, locationID string, date time.Time, req domain.InventoryDayRequest) (domain.InventoryRecreateResponse, error) {
	if _, err := requireManager(ctx); err != nil {
		return domain.InventoryRecreateResponse{}, err
	}
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		return domain.InventoryRecreateResponse{}, err
	}

	outcome, records, err := s.ledger.BulkRecreate(ctx, locationID, date, req.Items)
	if err != nil {
		return domain.InventoryRecreateResponse{}, err
	}
	if outcome == domain.RecreateApplied {
		s.publish(ctx, events.New(events.TypeInventoryRecreated, events.InventoryRecreated{
			LocationID:    locationID,
			InventoryDate: date.Format(time.DateOnly),
			RecordCount:   len(records),
		}))
	}
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	return domain.InventoryRecreateResponse{Outcome: outcome, Records: records}, nil
}

func (s *Service) ListInventory(ctx context.Context, locationID string, date time.Time) (domain.InventoryDayResponse, error) {
	records, started, err := s.ledger.Day(ctx, locationID, date)
	if err != nil {
		return domain.InventoryDayResponse{}, err
	}
	return dayResponse(locationID, date, started, records), nil
}

// AdjustStock records a supplemental order (delta > 0) or a loss (delta < 0).
func (s *Service) AdjustStock(ctx context.Context, recordID string, req domain.StockAdjustmentRequest) (domain.InventoryRecord, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.InventoryRecord{}, fmt.Errorf("%w: adjustment reason is required", store.ErrInvalidArgument)
	}

	record, err := s.ledger.Adjust(ctx, recordID, req.Delta)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.logger.WithFields(log.Fields{
		"record_id": record.ID,
		"delta":     req.Delta,
		"reason":    reason,
		"employee":  actor.Username,
	}).Info("stock adjusted")
	return *record, nil
}

func dayResponse(locationID string, date time.Time, started bool, records []domain.InventoryRecord) domain.InventoryDayResponse {
	if records == nil {
		records = []domain.InventoryRecord{}
	}
	return domain.InventoryDayResponse{
		LocationID:    locationID,
		InventoryDate: date.Format(time.DateOnly),
		SalesStarted:  started,
		Records:       records,
	}
}

// publish runs after commit; a failure is logged and never surfaces to the
// caller.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", event.Type).Warn("event publish failed")
	}
}
