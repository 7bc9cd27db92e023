package iap

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request fields accepted by Server.Validate.
const (
	FieldType                   = "type"
	FieldReceipt                = "receipt"
	FieldProductID              = "product_id"
	FieldSharedSecret           = "shared_secret"
	FieldExcludeOldTransactions = "exclude_old_transactions"
)

// Server exposes a Validator over gRPC. Receipts are submitted inline as
// base64; every accepted receipt is recorded and announced.
type Server struct {
	log          *zap.Logger
	validator    *Validator
	records      Store
	publisher    Publisher
	sharedSecret string
}

func NewServer(
	log *zap.Logger,
	validator *Validator,
	records Store,
	publisher Publisher,
	sharedSecret string,
) *Server {
	return &Server{
		log:          log,
		validator:    validator,
		records:      records,
		publisher:    publisher,
		sharedSecret: sharedSecret,
	}
}

func (s *Server) Validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	receipt, err := base64.StdEncoding.DecodeString(fields[FieldReceipt].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "receipt must be base64 encoded")
	}

	secret := fields[FieldSharedSecret].GetStringValue()
	if secret == "" {
		secret = s.sharedSecret
	}

	var intent Intent
	productID := fields[FieldProductID].GetStringValue()
	switch fields[FieldType].GetStringValue() {
	case IntentPurchase.String():
		if productID == "" {
			return nil, status.Error(codes.InvalidArgument, "product_id is required for purchases")
		}
		intent = &PurchaseIntent{
			ProductID:    productID,
			SharedSecret: secret,
			Source:       NewInMemorySource(receipt),
		}
	case IntentSubscription.String():
		intent = &SubscriptionIntent{
			SharedSecret:           secret,
			ExcludeOldTransactions: fields[FieldExcludeOldTransactions].GetBoolValue(),
			Source:                 NewInMemorySource(receipt),
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "type must be purchase or subscription")
	}

	log := s.log.With(
		zap.String("intent", intent.Type().String()),
		zap.String("receipt_id", ReceiptIDString(GetReceiptID(receipt))),
	)

	log.Debug("Got a receipt")

	result, err := s.validator.Validate(ctx, intent)
	if err != nil {
		log.Warn("Receipt failed validation", zap.Error(err), zap.Stringer("kind", KindOf(err)))
		return nil, toStatus(err)
	}

	now := time.Now()
	record := NewRecord(result, productID, now)

	seenBefore, err := s.recordValidation(ctx, record)
	if err != nil {
		log.Warn("Failed to record validation", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to record validation")
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, NewEvent(record, seenBefore, now)); err != nil {
			log.Warn("Failed to publish validation event", zap.Error(err))
		}
	}

	resp := map[string]any{
		"receipt_id":  ReceiptIDString(result.ReceiptID),
		"environment": result.Environment().String(),
		"status":      float64(result.Response.Status),
		"seen_before": seenBefore,
		"product_id":  record.ProductID,
	}
	if result.Subscription != nil {
		resp["subscription_active"] = result.Subscription.Active
		if !result.Subscription.ExpiresAt.IsZero() {
			resp["expires_at"] = result.Subscription.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}

	out, err := structpb.NewStruct(resp)
	if err != nil {
		log.Warn("Failed to encode response", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// recordValidation stores record unless the receipt was already validated.
// It reports whether it had been.
func (s *Server) recordValidation(ctx context.Context, record *Record) (bool, error) {
	_, err := s.records.GetRecord(ctx, record.ReceiptID)
	if err == nil {
		return true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	err = s.records.CreateRecord(ctx, record)
	if errors.Is(err, ErrExists) {
		return true, nil
	}
	return false, err
}

func toStatus(err error) error {
	var code codes.Code
	switch KindOf(err) {
	case KindNoReceiptFound:
		code = codes.InvalidArgument
	case KindRefreshFailed, KindEnvironmentMismatch, KindProductMismatch:
		code = codes.FailedPrecondition
	case KindTransportError:
		code = codes.Unavailable
	case KindIOError, KindMalformedResponse:
		code = codes.Internal
	default:
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			code = codes.InvalidArgument
		} else {
			code = codes.Internal
		}
	}
	return status.Error(code, err.Error())
}
