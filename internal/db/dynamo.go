package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ragbackend/internal/storage"
)

const (
	AnonymousOwner = "anonymous"
	listLimit      = 100
)

type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func UserPK(sub string) string {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		sub = AnonymousOwner
	}
	return fmt.Sprintf("USER#%s", sub)
}

func DocSK(key string) string {
	return fmt.Sprintf("DOC#%s", key)
}

type documentItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	storage.UploadRecord
}

// Documents is the per-user registry of uploaded objects.
type Documents struct {
	client DynamoAPI
	table  string
}

func NewDocuments(client DynamoAPI, table string) *Documents {
	return &Documents{client: client, table: strings.TrimSpace(table)}
}

func (d *Documents) Enabled() bool {
	return d != nil && d.client != nil && d.table != ""
}

// Put records rec for owner. Keys embed the upload timestamp, so a record is
// written once and never updated.
func (d *Documents) Put(ctx context.Context, owner string, rec storage.UploadRecord) error {
	if !d.Enabled() {
		return fmt.Errorf("DOCUMENTS_TABLE is not set")
	}
	item, err := attributevalue.MarshalMap(documentItem{
		PK:           UserPK(owner),
		SK:           DocSK(rec.Key),
		UploadRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// List returns owner's records, newest first.
func (d *Documents) List(ctx context.Context, owner string) ([]storage.UploadRecord, error) {
	if !d.Enabled() {
		return nil, fmt.Errorf("DOCUMENTS_TABLE is not set")
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: UserPK(owner)},
			":sk": &types.AttributeValueMemberS{Value: "DOC#"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(listLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	var items []documentItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal documents: %w", err)
	}

	recs := make([]storage.UploadRecord, 0, len(items))
	for _, it := range items {
		recs = append(recs, it.UploadRecord)
	}
	return recs, nil
}
