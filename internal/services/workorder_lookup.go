package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetworks/api/internal/repositories"
)

var (
	// ErrWorkOrderInvalidInput indicates the supplied order number is empty or malformed.
	ErrWorkOrderInvalidInput = errors.New("work order: invalid input")
	// ErrWorkOrderNotFound indicates no work order matches the supplied order number.
	ErrWorkOrderNotFound = errors.New("work order: not found")
	// ErrWorkOrderUnavailable indicates the work-order store could not be reached.
	ErrWorkOrderUnavailable = errors.New("work order: store unavailable")
)

// WorkOrderLookupDeps bundles collaborators for the work-order lookup service.
type WorkOrderLookupDeps struct {
	Repository repositories.WorkOrderRepository
}

type workOrderLookup struct {
	repo repositories.WorkOrderRepository
}

// NewWorkOrderLookup constructs the lookup service over the work-order repository.
func NewWorkOrderLookup(deps WorkOrderLookupDeps) (WorkOrderLookup, error) {
	if deps.Repository == nil {
		return nil, errors.New("work order lookup: repository is required")
	}
	return &workOrderLookup{repo: deps.Repository}, nil
}

func (s *workOrderLookup) Find(ctx context.Context, orderNumber string) (WorkOrder, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return WorkOrder{}, fmt.Errorf("%w: order number is required", ErrWorkOrderInvalidInput)
	}
	for _, ch := range orderNumber {
		isDigit := ch >= '0' && ch <= '9'
		isLetter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
		if !isDigit && !isLetter {
			return WorkOrder{}, fmt.Errorf("%w: order number must be alphanumeric", ErrWorkOrderInvalidInput)
		}
	}

	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		switch {
		case isRepoNotFound(err):
			return WorkOrder{}, fmt.Errorf("%w: %s", ErrWorkOrderNotFound, orderNumber)
		case isRepoUnavailable(err):
			return WorkOrder{}, fmt.Errorf("%w: %v", ErrWorkOrderUnavailable, err)
		default:
			return WorkOrder{}, err
		}
	}
	return order, nil
}
