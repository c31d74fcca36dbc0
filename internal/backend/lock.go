package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

const lockIndex = ".floe-locks"

// Lock implements distributed locking using engine documents.
// It uses op_type=create for atomic lock acquisition and optimistic
// concurrency control (_seq_no + _primary_term) for safe expired-lock cleanup.
type Lock struct {
	transport esapi.Transport
	owner     string
}

// NewLock creates a lock stored in the same cluster the data lives in.
func NewLock(es *Elasticsearch) *Lock {
	return newLock(es.client)
}

func newLock(transport esapi.Transport) *Lock {
	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
	return &Lock{transport: transport, owner: owner}
}

// Owner identifies this process in lock documents.
func (l *Lock) Owner() string { return l.owner }

type lockDoc struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Acquire attempts to acquire a lock for key with the given TTL.
// It returns false without error when another owner holds a live lock.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := l.cleanupExpired(ctx, key); err != nil {
		slog.Debug("lock cleanup failed (non-fatal)", "key", key, "error", err)
	}

	acquired, err := l.tryCreate(ctx, key, ttl)
	if err != nil && isIndexMissing(err) {
		if createErr := l.ensureIndex(ctx); createErr != nil {
			return false, fmt.Errorf("creating lock index: %w", createErr)
		}
		return l.tryCreate(ctx, key, ttl)
	}
	return acquired, err
}

// Release deletes the lock document for key.
func (l *Lock) Release(ctx context.Context, key string) error {
	res, err := esapi.DeleteRequest{
		Index:      lockIndex,
		DocumentID: key,
		Refresh:    "true",
	}.Do(ctx, l.transport)
	if err != nil {
		return fmt.Errorf("executing release request: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	// 404 is fine: the lock already expired or was released.
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("lock release failed: status=%d", res.StatusCode)
	}
	return nil
}

type indexMissingError struct {
	msg string
}

func (e *indexMissingError) Error() string { return e.msg }

func isIndexMissing(err error) bool {
	_, ok := err.(*indexMissingError)
	return ok
}

func (l *Lock) tryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	body, err := json.Marshal(lockDoc{
		Owner:      l.owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return false, fmt.Errorf("marshaling lock doc: %w", err)
	}

	res, err := esapi.CreateRequest{
		Index:      lockIndex,
		DocumentID: key,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}.Do(ctx, l.transport)
	if err != nil {
		return false, fmt.Errorf("executing lock request: %w", err)
	}
	defer res.Body.Close()
	respBody, _ := io.ReadAll(res.Body)

	switch {
	case res.StatusCode == http.StatusConflict:
		return false, nil
	case res.StatusCode == http.StatusNotFound:
		return false, &indexMissingError{msg: fmt.Sprintf("lock index %s does not exist", lockIndex)}
	case res.IsError():
		return false, fmt.Errorf("lock acquire failed: status=%d body=%s", res.StatusCode, string(respBody))
	default:
		return true, nil
	}
}

// cleanupExpired deletes an expired lock for key, guarded by its sequence
// number so a lock renewed concurrently by another owner survives.
func (l *Lock) cleanupExpired(ctx context.Context, key string) error {
	res, err := esapi.GetRequest{Index: lockIndex, DocumentID: key}.Do(ctx, l.transport)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("get lock failed: status=%d", res.StatusCode)
	}

	var result struct {
		Found    bool    `json:"found"`
		Source   lockDoc `json:"_source"`
		SeqNo    int     `json:"_seq_no"`
		PrimTerm int     `json:"_primary_term"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return err
	}
	if !result.Found || !time.Now().UTC().After(result.Source.ExpiresAt) {
		return nil
	}

	slog.Info("cleaning up expired lock",
		"key", key,
		"owner", result.Source.Owner,
		"expired_at", result.Source.ExpiresAt,
	)
	delRes, err := esapi.DeleteRequest{
		Index:         lockIndex,
		DocumentID:    key,
		IfSeqNo:       &result.SeqNo,
		IfPrimaryTerm: &result.PrimTerm,
		Refresh:       "true",
	}.Do(ctx, l.transport)
	if err != nil {
		return err
	}
	defer delRes.Body.Close()
	io.Copy(io.Discard, delRes.Body)
	// 409: another instance cleaned it up first.
	return nil
}

func (l *Lock) ensureIndex(ctx context.Context) error {
	body := `{"settings":{"number_of_shards":1,"number_of_replicas":1}}`
	res, err := esapi.IndicesCreateRequest{
		Index: lockIndex,
		Body:  strings.NewReader(body),
	}.Do(ctx, l.transport)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	respBody, _ := io.ReadAll(res.Body)

	// Another instance may have created it concurrently.
	if res.StatusCode == http.StatusBadRequest && bytes.Contains(respBody, []byte("resource_already_exists_exception")) {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("creating lock index: status=%d body=%s", res.StatusCode, string(respBody))
	}
	return nil
}
