package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-fulfillment/internal/testutil"
)

const table = "idempotency-table"

func newStoreWithMock() (*Store, *testutil.Dynamo) {
	mock := testutil.NewDynamo(map[string]string{table: "idempotency_key"})
	return NewStore(mock, table, 48*time.Hour), mock
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	s, mock := newStoreWithMock()
	ctx := context.Background()
	key := "test-key-1"
	orderID := "order-123"

	created, err := s.CreateIfNotExists(ctx, key, ScopeOrderCreate, orderID)
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, ScopeOrderCreate, orderID)
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress || rec.Scope != ScopeOrderCreate {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.OrderID != orderID {
		t.Fatalf("order id mismatch")
	}

	if err := s.MarkDone(ctx, key, "{\"ok\":true}", 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	item := mock.Raw(table, key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rb, ok := item["response_body"].(*types.AttributeValueMemberS); !ok || rb.Value != "{\"ok\":true}" {
		t.Fatalf("response_body not set correctly: %+v", item["response_body"])
	}

	if err := s.MarkFailed(ctx, key, "failed-reason"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item2 := mock.Raw(table, key)
	if st, ok := item2["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item2["status"])
	}
	if n, ok := item2["note"].(*types.AttributeValueMemberS); !ok || n.Value != "failed-reason" {
		t.Fatalf("note not set, got %+v", item2["note"])
	}
}

func TestClaim_Lifecycle(t *testing.T) {
	s, _ := newStoreWithMock()
	ctx := context.Background()
	key := "o1#2#order.status_changed"

	c, err := s.Claim(ctx, key, ScopeOrderEvent, "o1")
	if err != nil || c != Claimed {
		t.Fatalf("first claim: %v %v", c, err)
	}

	c, err = s.Claim(ctx, key, ScopeOrderEvent, "o1")
	if err != nil || c != InFlight {
		t.Fatalf("expected in_flight while owned, got %v %v", c, err)
	}

	if err := s.MarkFailed(ctx, key, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	c, err = s.Claim(ctx, key, ScopeOrderEvent, "o1")
	if err != nil || c != Claimed {
		t.Fatalf("failed record should be reclaimable, got %v %v", c, err)
	}
	rec, _ := s.Get(ctx, key)
	if rec.Attempts != 2 || rec.Status != StatusInProgress {
		t.Fatalf("expected attempt 2 in progress, got %+v", rec)
	}

	if err := s.MarkDone(ctx, key, "", 200); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	c, err = s.Claim(ctx, key, ScopeOrderEvent, "o1")
	if err != nil || c != Completed {
		t.Fatalf("expected completed, got %v %v", c, err)
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	rec := IdempotencyRecord{
		IdempotencyKey: "k1",
		Scope:          ScopeOrderEvent,
		Status:         StatusInProgress,
		OrderID:        "o1",
		CreatedAt:      time.Now().Round(time.Second),
		UpdatedAt:      time.Now().Round(time.Second),
		ExpiresAt:      time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out IdempotencyRecord
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.IdempotencyKey != rec.IdempotencyKey || out.Scope != rec.Scope {
		t.Fatalf("unmarshal mismatch")
	}
}
