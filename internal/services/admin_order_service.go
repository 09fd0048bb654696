package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/pagination"
	"github.com/storefront/orders-api/internal/repositories"
)

const (
	defaultAdminScanLimit = 2000
	defaultAdminPageSize  = 50
	maxAdminPageSize      = 200
)

var (
	adminSortFields = []string{"date", "amount", "customer", "status"}
	adminRanges     = []string{"all", "today", "week", "month", "quarter"}
)

// ImageSigner turns a stored image reference into a short-lived URL.
type ImageSigner interface {
	SignedImageURL(ctx context.Context, ref string) (string, error)
}

// AdminOrderServiceDeps wires the operator console.
type AdminOrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Promotions        PromotionService
	Images            ImageSigner
	Location          *time.Location
	StrictTransitions bool
	ScanLimit         int
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type adminOrderService struct {
	orders    repositories.OrderRepository
	images    ImageSigner
	location  *time.Location
	strict    bool
	scanLimit int
	settle    *settler
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewAdminOrderService constructs the console service.
func NewAdminOrderService(deps AdminOrderServiceDeps) (AdminOrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("admin order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	scan := deps.ScanLimit
	if scan <= 0 {
		scan = defaultAdminScanLimit
	}
	now := func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	return &adminOrderService{
		orders:    deps.Orders,
		images:    deps.Images,
		location:  location,
		strict:    deps.StrictTransitions,
		scanLimit: scan,
		settle: &settler{
			orders:     deps.Orders,
			promotions: deps.Promotions,
			now:        now,
			logger:     logger,
		},
		now:    now,
		logger: logger,
	}, nil
}

// List filters, sorts and pages orders. Range and category narrow the storage query; the text
// query and sorting run in process over at most ScanLimit recent orders.
func (s *adminOrderService) List(ctx context.Context, query AdminOrderQuery) (AdminOrderPage, error) {
	sortField := strings.ToLower(strings.TrimSpace(query.Sort))
	if sortField == "" {
		sortField = "date"
	}
	if !slices.Contains(adminSortFields, sortField) {
		return AdminOrderPage{}, fmt.Errorf("%w: sort must be one of %s", ErrOrderInvalidInput, strings.Join(adminSortFields, ", "))
	}
	direction := strings.ToLower(strings.TrimSpace(query.Order))
	if direction == "" {
		direction = string(domain.SortDesc)
	}
	if direction != string(domain.SortAsc) && direction != string(domain.SortDesc) {
		return AdminOrderPage{}, fmt.Errorf("%w: order must be asc or desc", ErrOrderInvalidInput)
	}
	rangeKey := strings.ToLower(strings.TrimSpace(query.Range))
	if rangeKey == "" {
		rangeKey = "all"
	}
	if !slices.Contains(adminRanges, rangeKey) {
		return AdminOrderPage{}, fmt.Errorf("%w: range must be one of %s", ErrOrderInvalidInput, strings.Join(adminRanges, ", "))
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultAdminPageSize
	}
	pageSize = min(pageSize, maxAdminPageSize)

	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(query.Query))
	category := strings.TrimSpace(query.Category)

	fingerprint := pagination.Fingerprint(needle, sortField, direction, rangeKey, category)
	cursor, err := pagination.DecodeToken(query.PageToken, fingerprint)
	if err != nil {
		return AdminOrderPage{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	filter := repositories.OrderListFilter{
		CreatedFrom: rangeStart(rangeKey, s.now(), s.location),
		Category:    category,
		Limit:       s.scanLimit,
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return AdminOrderPage{}, mapOrderRepositoryError(err)
	}
	if len(orders) >= s.scanLimit {
		s.logger(ctx, "admin.orders.scan_limit_reached", map[string]any{"limit": s.scanLimit, "range": rangeKey})
	}

	matched := orders[:0:0]
	for _, order := range orders {
		if needle == "" || orderMatches(folder, order, needle) {
			matched = append(matched, order)
		}
	}
	sortOrders(folder, matched, sortField, direction == string(domain.SortDesc))

	page := AdminOrderPage{Total: len(matched)}
	start := min(cursor.Offset, len(matched))
	end := min(start+pageSize, len(matched))
	page.Items = matched[start:end]
	if end < len(matched) {
		token, err := pagination.EncodeToken(pagination.Cursor{Offset: end, Fingerprint: fingerprint})
		if err != nil {
			return AdminOrderPage{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (s *adminOrderService) Get(ctx context.Context, orderID string) (AdminOrderDetail, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return AdminOrderDetail{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return AdminOrderDetail{}, mapOrderRepositoryError(err)
	}
	detail := AdminOrderDetail{Order: order}
	if s.images != nil && order.ProductImageRef != "" {
		url, err := s.images.SignedImageURL(ctx, order.ProductImageRef)
		if err != nil {
			s.logger(ctx, "admin.orders.image_sign_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		} else {
			detail.ImageURL = url
		}
	}
	return detail, nil
}

// Update applies an operator patch. Only supplied fields change. Off-workflow transitions are
// logged as irregular and rejected only in strict mode.
func (s *adminOrderService) Update(ctx context.Context, orderID string, cmd AdminOrderUpdate) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if cmd.Status == nil && cmd.PaymentStatus == nil && cmd.TrackingNumber == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		return Order{}, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}
	if cmd.PaymentStatus != nil && !cmd.PaymentStatus.Valid() {
		return Order{}, &ValidationError{Fields: map[string]string{"payment_status": "unknown payment status"}}
	}
	var tracking *string
	if cmd.TrackingNumber != nil {
		trimmed := strings.TrimSpace(*cmd.TrackingNumber)
		if len(trimmed) > 128 {
			return Order{}, &ValidationError{Fields: map[string]string{"tracking_number": "at most 128 characters"}}
		}
		tracking = &trimmed
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	fields := map[string]any{"orderID": orderID, "actorID": cmd.ActorID}
	if cmd.Status != nil {
		decision := domain.CanTransitionStatus(current.Status, *cmd.Status, domain.ActorAdmin)
		if err := s.checkDecision(ctx, decision, "status", string(current.Status), string(*cmd.Status), fields); err != nil {
			return Order{}, err
		}
	}
	if cmd.PaymentStatus != nil {
		decision := domain.CanTransitionPayment(current.PaymentStatus, *cmd.PaymentStatus, domain.ActorAdmin)
		if err := s.checkDecision(ctx, decision, "payment_status", string(current.PaymentStatus), string(*cmd.PaymentStatus), fields); err != nil {
			return Order{}, err
		}
	}

	var expected *time.Time
	if cmd.ExpectedUpdatedAt != nil {
		at := cmd.ExpectedUpdatedAt.UTC()
		expected = &at
	}
	updated, err := s.orders.UpdateFields(ctx, orderID, repositories.OrderPatch{
		Status:            cmd.Status,
		PaymentStatus:     cmd.PaymentStatus,
		TrackingNumber:    tracking,
		At:                s.now(),
		ExpectedUpdatedAt: expected,
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if cmd.Status != nil {
		fields["status"] = string(updated.Status)
	}
	if cmd.PaymentStatus != nil {
		fields["paymentStatus"] = string(updated.PaymentStatus)
	}
	if tracking != nil {
		fields["trackingNumber"] = updated.TrackingNumber
	}
	s.logger(ctx, "admin.order.updated", fields)

	if cmd.PaymentStatus != nil && *cmd.PaymentStatus == domain.PaymentStatusCompleted &&
		current.PaymentStatus != domain.PaymentStatusCompleted {
		s.settle.redeemPromo(ctx, updated)
	}
	return updated, nil
}

func (s *adminOrderService) checkDecision(ctx context.Context, decision domain.TransitionDecision, axis, from, to string, fields map[string]any) error {
	if !decision.Allowed {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, axis, from, to)
	}
	if !decision.Irregular {
		return nil
	}
	if s.strict {
		return fmt.Errorf("%w: %s %s -> %s is off the workflow", ErrInvalidTransition, axis, from, to)
	}
	s.logger(ctx, "admin.order.irregular_transition", map[string]any{
		"orderID": fields["orderID"],
		"actorID": fields["actorID"],
		"axis":    axis,
		"from":    from,
		"to":      to,
	})
	return nil
}

// rangeStart returns the lower creation bound for a range bucket, using calendar boundaries in
// the store's time zone: today from local midnight, week from Monday, month from the 1st,
// quarter from the first day of the quarter.
func rangeStart(key string, now time.Time, loc *time.Location) *time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	var start time.Time
	switch key {
	case "today":
		start = midnight
	case "week":
		offset := (int(midnight.Weekday()) + 6) % 7
		start = midnight.AddDate(0, 0, -offset)
	case "month":
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	case "quarter":
		first := time.Month((int(local.Month())-1)/3*3 + 1)
		start = time.Date(local.Year(), first, 1, 0, 0, 0, 0, loc)
	default:
		return nil
	}
	start = start.UTC()
	return &start
}

func orderMatches(folder cases.Caser, order Order, needle string) bool {
	for _, field := range []string{
		order.ID,
		order.CustomerName,
		order.CustomerEmail,
		order.ProductTitle,
		order.SellerName,
		order.SellerID,
		order.TrackingNumber,
	} {
		if field != "" && strings.Contains(folder.String(field), needle) {
			return true
		}
	}
	return false
}

func sortOrders(folder cases.Caser, orders []Order, field string, desc bool) {
	customerKey := func(o Order) string {
		if o.CustomerName != "" {
			return folder.String(o.CustomerName)
		}
		return folder.String(o.CustomerEmail)
	}
	slices.SortStableFunc(orders, func(a, b Order) int {
		var c int
		switch field {
		case "amount":
			c = cmp.Compare(a.TotalAmount, b.TotalAmount)
		case "customer":
			c = cmp.Compare(customerKey(a), customerKey(b))
		case "status":
			c = cmp.Compare(string(a.Status), string(b.Status))
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}
