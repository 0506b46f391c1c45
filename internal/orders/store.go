package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-order-fulfillment/internal/aws"
)

var (
	// ErrVersionMismatch means the stored order changed since it was read.
	ErrVersionMismatch = errors.New("order version mismatch/conditional failed")
	// ErrCodeTaken means another unredeemed order already holds the pickup code.
	ErrCodeTaken = errors.New("pickup code already reserved")
	// ErrAlreadyExists means an order with the same id was already stored.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrIdempotencyKeyExists means the idempotency key was already claimed.
	ErrIdempotencyKeyExists = errors.New("idempotency key already exists")
)

// PersonnelIndex is the global secondary index of the orders table keyed by
// delivery_personnel_id. Orders without a courier are absent from it.
const PersonnelIndex = "delivery_personnel_id-index"

// Store encapsulates operations on the orders and pickup code tables.
type Store struct {
	client          aws.DynamoDBAPI
	tableName       string
	pickupCodeTable string
	nowFunc         func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, pickupCodeTable string) *Store {
	return &Store{
		client:          client,
		tableName:       tableName,
		pickupCodeTable: pickupCodeTable,
		nowFunc:         time.Now,
	}
}

// Create stores a new order at version 1. Fails with ErrAlreadyExists if order_id is taken.
func (s *Store) Create(ctx context.Context, order *Order) error {
	s.stampNew(order)
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in the orders table (with ConditionExpression attribute_not_exists(order_id))
//
// idempotencyItem must be a serializable struct or map with idempotency_key present.
// Returns ErrIdempotencyKeyExists when the key was already claimed.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order *Order, ttlWindow time.Duration) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}

	s.stampNew(order)
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			switch failedIndex(tce) {
			case 0:
				return ErrIdempotencyKeyExists
			case 1:
				return ErrAlreadyExists
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByPersonnel returns every order assigned to the courier, most recently
// updated first. Reads go through PersonnelIndex and are eventually consistent.
func (s *Store) ListByPersonnel(ctx context.Context, personnelID string) ([]Order, error) {
	var out []Order
	paginator := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(PersonnelIndex),
		KeyConditionExpression: awsString("delivery_personnel_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: personnelID},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query orders by personnel: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

// CodeChange describes a pickup code reservation written together with an order.
type CodeChange struct {
	Reserve string // code to claim for the order
	Release string // code to free after redemption or cancellation
}

// SaveWithCode writes order back only if the stored version still equals expectedVersion.
// On success order.Version is expectedVersion+1. Returns ErrVersionMismatch if the
// condition failed, in which case order is left as passed in.
// A non-empty change reserves or releases a pickup code in the same transaction;
// ErrCodeTaken is returned if Reserve is held by another order.
func (s *Store) SaveWithCode(ctx context.Context, order *Order, expectedVersion int64, change CodeChange) error {
	next := *order
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	cond := awsString("#v = :expected")
	names := map[string]string{"#v": "version"}
	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}

	if change.Reserve == "" && change.Release == "" {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:                 &s.tableName,
			Item:                      item,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return ErrVersionMismatch
			}
			return fmt.Errorf("put item: %w", err)
		}
		*order = next
		return nil
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:                 &s.tableName,
				Item:                      item,
				ConditionExpression:       cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		},
	}
	if change.Reserve != "" {
		resMap, err := attributevalue.MarshalMap(PickupCodeReservation{
			PickupCode: change.Reserve,
			OrderID:    order.OrderID,
			CreatedAt:  next.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal reservation: %w", err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.pickupCodeTable,
				Item:                resMap,
				ConditionExpression: awsString("attribute_not_exists(pickup_code)"),
			},
		})
	}
	if change.Release != "" {
		// only the owning order may release a code
		transactItems = append(transactItems, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: &s.pickupCodeTable,
				Key: map[string]types.AttributeValue{
					"pickup_code": &types.AttributeValueMemberS{Value: change.Release},
				},
				ConditionExpression: awsString("attribute_not_exists(pickup_code) OR order_id = :oid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":oid": &types.AttributeValueMemberS{Value: order.OrderID},
				},
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			switch idx := failedIndex(tce); {
			case idx == 0:
				return ErrVersionMismatch
			case idx == 1 && change.Reserve != "":
				return ErrCodeTaken
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	*order = next
	return nil
}

func (s *Store) stampNew(order *Order) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1
}

// failedIndex returns the position of the first item whose condition failed, or -1.
func failedIndex(tce *types.TransactionCanceledException) int {
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
