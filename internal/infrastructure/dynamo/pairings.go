package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/claraverse/pairing-api/internal/domain"
)

// userCodeGuardPrefix namespaces the guard items that reserve a user code in
// the same table as the sessions. A guard lives exactly as long as its owner
// session can be pending; the table TTL clears it afterwards so the code
// becomes reusable.
const userCodeGuardPrefix = "UC#"

// PairingRepo is the DynamoDB pairing-session backend. Conditional writes
// give the same compare-and-transition semantics as the in-memory store,
// valid across multiple API nodes.
type PairingRepo struct {
	client    *dynamodb.Client
	tableName string
	retention time.Duration
}

func NewPairingRepo(client *dynamodb.Client, tableName string, retention time.Duration) *PairingRepo {
	return &PairingRepo{client: client, tableName: tableName, retention: retention}
}

// Insert writes the session and its user-code guard in one transaction, each
// conditioned on absence, so two concurrent generators can never both claim a
// code. A cancelled transaction maps to ErrDuplicateCode.
func (r *PairingRepo) Insert(ctx context.Context, sess *domain.PairingSession) error {
	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return fmt.Errorf("marshal pairing session: %w", err)
	}

	guard := map[string]types.AttributeValue{
		"device_code": &types.AttributeValueMemberS{Value: userCodeGuardPrefix + sess.UserCode},
		"owner":       &types.AttributeValueMemberS{Value: sess.DeviceCode},
		fieldEvictAt:  &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.ExpiresAt, 10)},
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(device_code)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(device_code)"),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("code already taken: %w", domain.ErrDuplicateCode)
		}
		return err
	}
	return nil
}

func (r *PairingRepo) GetByDeviceCode(ctx context.Context, deviceCode string) (*domain.PairingSession, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("device_code", deviceCode),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}
	var sess domain.PairingSession
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetByUserCode looks up the pending, unexpired owner of userCode via GSI.
func (r *PairingRepo) GetByUserCode(ctx context.Context, userCode string) (*domain.PairingSession, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_code-index"),
		KeyConditionExpression: aws.String("user_code = :uc"),
		FilterExpression:       aws.String("#st = :pending AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uc":      &types.AttributeValueMemberS{Value: userCode},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("pairing session not found: %w", domain.ErrNotFound)
	}
	var sess domain.PairingSession
	if err := attributevalue.UnmarshalMap(out.Items[0], &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CompareAndTransition applies the status change and mutation in a single
// conditional update. The condition carries both the expected status and the
// expiry check, so a concurrent resolver or a lagging clock can never slip a
// transition past a dead session.
func (r *PairingRepo) CompareAndTransition(ctx context.Context, deviceCode string, expected, next domain.PairingStatus, mut domain.PairingMutation) (*domain.PairingSession, error) {
	now := time.Now().Unix()

	names := map[string]string{"#st": fieldStatus}
	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":new":      &types.AttributeValueMemberS{Value: string(next)},
		":now":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
	}
	sets := []string{"#st = :new"}

	if mut.BoundUserID != nil {
		sets = append(sets, fieldBoundUserID+" = :bu")
		values[":bu"] = &types.AttributeValueMemberS{Value: *mut.BoundUserID}
	}
	if mut.AuthorizedAt != nil {
		sets = append(sets, fieldAuthorizedAt+" = :aa")
		values[":aa"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*mut.AuthorizedAt, 10)}
	}
	if mut.ResolvedAt != nil {
		sets = append(sets, fieldResolvedAt+" = :ra", fieldEvictAt+" = :ev")
		values[":ra"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*mut.ResolvedAt, 10)}
		values[":ev"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*mut.ResolvedAt+int64(r.retention.Seconds()), 10)}
	}
	if mut.LastPolledAt != nil {
		sets = append(sets, fieldLastPolledAt+" = :lp")
		values[":lp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*mut.LastPolledAt, 10)}
	}
	if mut.PollInterval != nil {
		sets = append(sets, fieldPollInterval+" = :pi")
		values[":pi"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*mut.PollInterval)}
	}
	if mut.PollCountInc != 0 {
		sets = append(sets, "poll_count = poll_count + :pc")
		values[":pc"] = &types.AttributeValueMemberN{Value: strconv.Itoa(mut.PollCountInc)}
	}

	cond := "#st = :expected AND expires_at > :now"
	if next == domain.StatusExpired {
		cond = "#st = :expected AND expires_at <= :now"
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("device_code", deviceCode),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("transition %q -> %q rejected: %w", expected, next, domain.ErrStaleState)
		}
		return nil, err
	}

	var sess domain.PairingSession
	if err := attributevalue.UnmarshalMap(out.Attributes, &sess); err != nil {
		return nil, err
	}

	// Leaving pending frees the user code. Best-effort; the guard's TTL is
	// the backstop.
	if expected == domain.StatusPending && next != domain.StatusPending {
		if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key:       strKey("device_code", userCodeGuardPrefix+sess.UserCode),
		}); err != nil {
			slog.Warn("failed to release user-code guard", "user_code", sess.UserCode, "err", err)
		}
	}

	return &sess, nil
}

// ExpirePending sweeps pending sessions past their expiry, transitioning each
// individually so a failed item never blocks the rest.
func (r *PairingRepo) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	resolved := now.Unix()
	n := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("#st = :pending AND expires_at <= :now"),
			ExpressionAttributeNames: map[string]string{
				"#st": fieldStatus,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
				":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(resolved, 10)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return n, err
		}
		for _, item := range out.Items {
			dc, ok := item["device_code"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := r.CompareAndTransition(ctx, dc.Value, domain.StatusPending, domain.StatusExpired,
				domain.PairingMutation{ResolvedAt: &resolved})
			if err == nil {
				n++
			} else if !errors.Is(err, domain.ErrStaleState) {
				slog.Warn("failed to expire pairing session", "device_code_prefix", dc.Value[:min(8, len(dc.Value))], "err", err)
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return n, nil
}

// EvictTerminal is a no-op for DynamoDB: the table's TTL on evict_at removes
// terminal sessions after the retention window.
func (r *PairingRepo) EvictTerminal(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
