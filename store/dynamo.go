package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/espalier/document"
)

// maxTransactItems is DynamoDB's limit on items per TransactWriteItems call.
const maxTransactItems = 100

// DefaultDynamoTable is the records table used when none is configured.
const DefaultDynamoTable = "espalier_records"

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Record is the DynamoDB item layout of one stored record.
// The table's partition key is "id" (string); no sort key.
type Record struct {
	ID         string `dynamodbav:"id"`
	Body       string `dynamodbav:"body"`
	ObjectType string `dynamodbav:"object_type,omitempty"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

// Dynamo is a KV backed by a single DynamoDB table.
type Dynamo struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamo creates a KV over the given table.
func NewDynamo(client DynamoAPI, table string) *Dynamo {
	if table == "" {
		table = DefaultDynamoTable
	}
	return &Dynamo{
		client: client,
		table:  table,
		now:    time.Now,
	}
}

// Table returns the table name.
func (d *Dynamo) Table() string {
	return d.table
}

// Get returns the body stored at key.
func (d *Dynamo) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s: %w", key, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", key, err)
	}
	return []byte(rec.Body), nil
}

// Put stores value at key.
func (d *Dynamo) Put(ctx context.Context, key string, value []byte) error {
	item, err := d.item(key, value)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. The old item is returned by DynamoDB so the removed count is exact.
func (d *Dynamo) Delete(ctx context.Context, key string) (int64, error) {
	result, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(d.table),
		Key:          d.key(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb delete %s: %w", key, err)
	}
	if len(result.Attributes) == 0 {
		return 0, nil
	}
	return 1, nil
}

// Batch writes records with TransactWriteItems. Each call carries at most 100 items,
// so larger batches are atomic per chunk only. A transaction may touch an item
// once, so repeated keys are collapsed to their last value first.
func (d *Dynamo) Batch(ctx context.Context, writes []Write) error {
	writes = dedupe(writes)
	for start := 0; start < len(writes); start += maxTransactItems {
		end := min(start+maxTransactItems, len(writes))

		items := make([]types.TransactWriteItem, 0, end-start)
		for _, w := range writes[start:end] {
			item, err := d.item(w.Key, w.Value)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(d.table),
					Item:      item,
				},
			})
		}

		if _, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		}); err != nil {
			return fmt.Errorf("dynamodb transact write: %w", err)
		}
	}
	return nil
}

// Keys scans the table for ids starting with prefix.
func (d *Dynamo) Keys(ctx context.Context, prefix string) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.table),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#id, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	var keys []string
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
				keys = append(keys, v.Value)
			}
		}
	}
	return keys, nil
}

func (d *Dynamo) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *Dynamo) item(key string, value []byte) (map[string]types.AttributeValue, error) {
	objectType, _, _ := document.SplitKey(key)
	item, err := attributevalue.MarshalMap(Record{
		ID:         key,
		Body:       string(value),
		ObjectType: objectType,
		UpdatedAt:  d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", key, err)
	}
	return item, nil
}
