package personnel

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
	// ErrNotFound means no courier exists with the given id.
	ErrNotFound = errors.New("delivery personnel not found")
	// ErrAlreadyExists means the courier id is taken.
	ErrAlreadyExists = errors.New("delivery personnel already exists")
)

// Store encapsulates operations on the delivery personnel table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new personnel Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create stores a new courier. Fails with ErrAlreadyExists if the id is taken.
func (s *Store) Create(ctx context.Context, p *DeliveryPersonnel) error {
	now := s.nowFunc().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal personnel: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(personnel_id)"),
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

// Get fetches a courier by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, personnelID string) (*DeliveryPersonnel, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"personnel_id": &types.AttributeValueMemberS{Value: personnelID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p DeliveryPersonnel
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal personnel: %w", err)
	}
	return &p, nil
}

// ListActive returns active couriers ordered by open orders, fewest first.
func (s *Store) ListActive(ctx context.Context) ([]DeliveryPersonnel, error) {
	var out []DeliveryPersonnel
	paginator := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan personnel: %w", err)
		}
		var batch []DeliveryPersonnel
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal personnel: %w", err)
		}
		for _, p := range batch {
			if p.Active {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OpenOrders != out[j].OpenOrders {
			return out[i].OpenOrders < out[j].OpenOrders
		}
		return out[i].PersonnelID < out[j].PersonnelID
	})
	return out, nil
}

// AdjustOpenOrders adds delta to the courier's open order count and returns the new value.
// A decrement never takes the count below zero.
func (s *Store) AdjustOpenOrders(ctx context.Context, personnelID string, delta int) (int, error) {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"personnel_id": &types.AttributeValueMemberS{Value: personnelID},
		},
		UpdateExpression: awsString("SET open_orders = if_not_exists(open_orders, :zero) + :d, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":d":    &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(personnel_id)"),
		ReturnValues:        types.ReturnValueAllNew,
	}
	if delta < 0 {
		input.ConditionExpression = awsString("attribute_exists(personnel_id) AND open_orders >= :min")
		input.ExpressionAttributeValues[":min"] = &types.AttributeValueMemberN{Value: strconv.Itoa(-delta)}
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return 0, fmt.Errorf("update open orders: %w", err)
		}
		if delta >= 0 {
			return 0, ErrNotFound
		}
		// missing courier or count already at floor
		p, gerr := s.Get(ctx, personnelID)
		if gerr != nil {
			return 0, gerr
		}
		if p == nil {
			return 0, ErrNotFound
		}
		return p.OpenOrders, nil
	}

	var p DeliveryPersonnel
	if err := attributevalue.UnmarshalMap(out.Attributes, &p); err != nil {
		return 0, fmt.Errorf("unmarshal personnel: %w", err)
	}
	return p.OpenOrders, nil
}

// MoveOpenOrder moves one open order from one courier to another in a single
// transaction, so a retried reassignment can never decrement twice.
// A source courier that is gone or already at zero only receives the increment side.
// When the destination courier does not exist the source is still decremented
// and ErrNotFound is returned.
func (s *Store) MoveOpenOrder(ctx context.Context, fromID, toID string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	update := func(id, expr, cond string, extra map[string]types.AttributeValue) *types.Update {
		values := map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ua":  &types.AttributeValueMemberS{Value: now},
		}
		for k, v := range extra {
			values[k] = v
		}
		return &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"personnel_id": &types.AttributeValueMemberS{Value: id},
			},
			UpdateExpression:          awsString(expr),
			ConditionExpression:       awsString(cond),
			ExpressionAttributeValues: values,
		}
	}
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: update(fromID,
				"SET open_orders = open_orders - :one, updated_at = :ua",
				"attribute_exists(personnel_id) AND open_orders >= :one", nil)},
			{Update: update(toID,
				"SET open_orders = if_not_exists(open_orders, :zero) + :one, updated_at = :ua",
				"attribute_exists(personnel_id)",
				map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}})},
		},
	})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("move open order: %w", err)
	}
	if conditionFailed(tce, 1) {
		if _, err := s.AdjustOpenOrders(ctx, fromID, -1); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return ErrNotFound
	}
	if conditionFailed(tce, 0) {
		_, err := s.AdjustOpenOrders(ctx, toID, 1)
		return err
	}
	return fmt.Errorf("move open order: %w", err)
}

func conditionFailed(tce *types.TransactionCanceledException, i int) bool {
	if i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// UpdateLocation records the courier's latest position.
func (s *Store) UpdateLocation(ctx context.Context, personnelID string, lat, lng float64, at time.Time) error {
	loc, err := attributevalue.Marshal(Location{Lat: lat, Lng: lng, UpdatedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	now := s.nowFunc().UTC()
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"personnel_id": &types.AttributeValueMemberS{Value: personnelID},
		},
		UpdateExpression: awsString("SET current_location = :loc, last_seen_at = :ua, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":loc": loc,
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(personnel_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
